package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	attemptRecordVersion1 = 1
	// DefaultAttemptGrace keeps a record past its code expiry so a reload
	// can still offer a resend.
	DefaultAttemptGrace = 15 * time.Minute
)

var (
	ErrAttemptNotFound = errors.New("pending attempt not found")
	ErrAttemptCorrupt  = errors.New("pending attempt corrupt")
	ErrAttemptBackend  = errors.New("pending attempt backend unavailable")
)

// AttemptRecord is the persisted form of a pending verification attempt.
// Times are unix milliseconds; zero means unset.
type AttemptRecord struct {
	AttemptID  string
	Purpose    uint8
	State      uint8
	FailReason uint8
	Method     string
	Methods    []string
	Email      string
	TempToken  string
	Login      string
	Password   string
	// User is the caller-encoded user summary.
	User []byte

	CodeIssued bool
	Synced     bool
	ExpiresAt  int64
	ResendAt   int64
	SentAt     int64
	CreatedAt  int64

	DeferredAccess  string
	DeferredRefresh string
}

// AttemptStore keeps at most one record per tab.
type AttemptStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewAttemptStore(redisClient redis.UniversalClient, prefix string) *AttemptStore {
	if prefix == "" {
		prefix = "af:attempt"
	}
	return &AttemptStore{redis: redisClient, prefix: prefix}
}

func (s *AttemptStore) key(tabID string) string {
	return s.prefix + ":" + tabID
}

// TTLFor returns how long rec should live after now.
func TTLFor(rec *AttemptRecord, now time.Time, grace time.Duration) time.Duration {
	if grace <= 0 {
		grace = DefaultAttemptGrace
	}
	if rec.ExpiresAt == 0 {
		return grace
	}
	ttl := time.UnixMilli(rec.ExpiresAt).Sub(now) + grace
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

// Save replaces the tab's record.
func (s *AttemptStore) Save(ctx context.Context, tabID string, rec *AttemptRecord, ttl time.Duration) error {
	encoded, err := encodeAttempt(rec)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(tabID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrAttemptBackend, err)
	}
	return nil
}

// Load returns the tab's record. A corrupt record is deleted.
func (s *AttemptStore) Load(ctx context.Context, tabID string) (*AttemptRecord, error) {
	data, err := s.redis.Get(ctx, s.key(tabID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrAttemptBackend, err)
	}
	rec, err := decodeAttempt(data)
	if err != nil {
		_, _ = s.redis.Del(ctx, s.key(tabID)).Result()
		return nil, err
	}
	return rec, nil
}

// Delete removes the tab's record. It reports whether one existed.
func (s *AttemptStore) Delete(ctx context.Context, tabID string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(tabID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrAttemptBackend, err)
	}
	return n > 0, nil
}

const (
	attemptFlagIssued byte = 1 << iota
	attemptFlagSynced
)

func encodeAttempt(rec *AttemptRecord) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(attemptRecordVersion1)
	buf.WriteByte(rec.Purpose)
	buf.WriteByte(rec.State)
	buf.WriteByte(rec.FailReason)

	var flags byte
	if rec.CodeIssued {
		flags |= attemptFlagIssued
	}
	if rec.Synced {
		flags |= attemptFlagSynced
	}
	buf.WriteByte(flags)

	if len(rec.Methods) > 255 {
		return nil, errors.New("too many methods")
	}
	buf.WriteByte(byte(len(rec.Methods)))
	for _, m := range rec.Methods {
		if err := writeString(&buf, m); err != nil {
			return nil, err
		}
	}

	for _, v := range []string{
		rec.AttemptID, rec.Method, rec.Email, rec.TempToken,
		rec.Login, rec.Password, string(rec.User),
		rec.DeferredAccess, rec.DeferredRefresh,
	} {
		if err := writeString(&buf, v); err != nil {
			return nil, err
		}
	}

	for _, v := range []int64{rec.ExpiresAt, rec.ResendAt, rec.SentAt, rec.CreatedAt} {
		if err := binary.Write(&buf, binary.BigEndian, v); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func decodeAttempt(data []byte) (*AttemptRecord, error) {
	r := bytes.NewReader(data)
	header := make([]byte, 5)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, ErrAttemptCorrupt
	}
	if header[0] != attemptRecordVersion1 {
		return nil, ErrAttemptCorrupt
	}
	rec := &AttemptRecord{
		Purpose:    header[1],
		State:      header[2],
		FailReason: header[3],
		CodeIssued: header[4]&attemptFlagIssued != 0,
		Synced:     header[4]&attemptFlagSynced != 0,
	}

	n, err := r.ReadByte()
	if err != nil {
		return nil, ErrAttemptCorrupt
	}
	if n > 0 {
		rec.Methods = make([]string, 0, n)
	}
	for i := 0; i < int(n); i++ {
		m, err := readString(r)
		if err != nil {
			return nil, err
		}
		rec.Methods = append(rec.Methods, m)
	}

	var user string
	for _, dst := range []*string{
		&rec.AttemptID, &rec.Method, &rec.Email, &rec.TempToken,
		&rec.Login, &rec.Password, &user,
		&rec.DeferredAccess, &rec.DeferredRefresh,
	} {
		if *dst, err = readString(r); err != nil {
			return nil, err
		}
	}
	if user != "" {
		rec.User = []byte(user)
	}

	for _, dst := range []*int64{&rec.ExpiresAt, &rec.ResendAt, &rec.SentAt, &rec.CreatedAt} {
		if err := binary.Read(r, binary.BigEndian, dst); err != nil {
			return nil, ErrAttemptCorrupt
		}
	}
	if rec.AttemptID == "" {
		return nil, ErrAttemptCorrupt
	}
	return rec, nil
}

func writeString(buf *bytes.Buffer, v string) error {
	if len(v) > 0xFFFF {
		return errors.New("field too long")
	}
	_ = binary.Write(buf, binary.BigEndian, uint16(len(v)))
	buf.WriteString(v)
	return nil
}

func readString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", ErrAttemptCorrupt
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", ErrAttemptCorrupt
	}
	return string(b), nil
}
