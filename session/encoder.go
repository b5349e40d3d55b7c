package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"time"
)

const (
	identityFormatVersionCurrent = 2
	identityFormatVersionV1      = 1
)

const (
	flagEmailVerified byte = 1 << iota
	flagTwoFactor
	flagBanned
)

// ErrCorrupt is returned for an undecodable identity record.
var ErrCorrupt = errors.New("session record corrupt")

// Encode serializes id in the current format.
func Encode(id *Identity) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(identityFormatVersionCurrent)

	if err := writeLong(&buf, id.AccessToken, "access token"); err != nil {
		return nil, err
	}
	if err := writeLong(&buf, id.RefreshToken, "refresh token"); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, id.User.ID); err != nil {
		return nil, err
	}
	for _, f := range []struct{ v, name string }{
		{id.User.Username, "username"},
		{id.User.Email, "email"},
		{id.User.Role, "role"},
		{id.User.WalletAddress, "wallet address"},
	} {
		if err := writeShort(&buf, f.v, f.name); err != nil {
			return nil, err
		}
	}

	var flags byte
	if id.User.EmailVerified {
		flags |= flagEmailVerified
	}
	if id.User.TwoFactorEnabled {
		flags |= flagTwoFactor
	}
	if id.User.Banned {
		flags |= flagBanned
	}
	buf.WriteByte(flags)

	var bannedUntil int64
	if id.User.BannedUntil != nil {
		bannedUntil = id.User.BannedUntil.Unix()
	}
	if err := binary.Write(&buf, binary.BigEndian, bannedUntil); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, id.UpdatedAt); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses any supported format version. Version 1 records carry no
// refresh token, wallet address or ban fields.
func Decode(data []byte) (*Identity, error) {
	r := bytes.NewReader(data)

	version, err := r.ReadByte()
	if err != nil {
		return nil, ErrCorrupt
	}
	if version != identityFormatVersionCurrent && version != identityFormatVersionV1 {
		return nil, ErrCorrupt
	}

	id := &Identity{}
	if id.AccessToken, err = readLong(r); err != nil {
		return nil, err
	}
	if version == identityFormatVersionCurrent {
		if id.RefreshToken, err = readLong(r); err != nil {
			return nil, err
		}
	}
	if err := binary.Read(r, binary.BigEndian, &id.User.ID); err != nil {
		return nil, ErrCorrupt
	}
	if id.User.Username, err = readShort(r); err != nil {
		return nil, err
	}
	if id.User.Email, err = readShort(r); err != nil {
		return nil, err
	}
	if id.User.Role, err = readShort(r); err != nil {
		return nil, err
	}
	if version == identityFormatVersionCurrent {
		if id.User.WalletAddress, err = readShort(r); err != nil {
			return nil, err
		}
	}

	flags, err := r.ReadByte()
	if err != nil {
		return nil, ErrCorrupt
	}
	id.User.EmailVerified = flags&flagEmailVerified != 0
	id.User.TwoFactorEnabled = flags&flagTwoFactor != 0

	if version == identityFormatVersionCurrent {
		id.User.Banned = flags&flagBanned != 0
		var bannedUntil int64
		if err := binary.Read(r, binary.BigEndian, &bannedUntil); err != nil {
			return nil, ErrCorrupt
		}
		if bannedUntil != 0 {
			t := time.Unix(bannedUntil, 0).UTC()
			id.User.BannedUntil = &t
		}
	}
	if err := binary.Read(r, binary.BigEndian, &id.UpdatedAt); err != nil {
		return nil, ErrCorrupt
	}
	if id.AccessToken == "" {
		return nil, ErrCorrupt
	}
	return id, nil
}

func writeShort(buf *bytes.Buffer, v, name string) error {
	if len(v) > 255 {
		return errors.New(name + " too long")
	}
	buf.WriteByte(byte(len(v)))
	buf.WriteString(v)
	return nil
}

func writeLong(buf *bytes.Buffer, v, name string) error {
	if len(v) > 0xFFFF {
		return errors.New(name + " too long")
	}
	_ = binary.Write(buf, binary.BigEndian, uint16(len(v)))
	buf.WriteString(v)
	return nil
}

func readShort(r *bytes.Reader) (string, error) {
	n, err := r.ReadByte()
	if err != nil {
		return "", ErrCorrupt
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", ErrCorrupt
	}
	return string(b), nil
}

func readLong(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", ErrCorrupt
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", ErrCorrupt
	}
	return string(b), nil
}
