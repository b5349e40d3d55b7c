// Package password checks candidate passwords against the local complexity
// policy before they are sent to the authority.
//
// The authority remains the final judge; this check only avoids a round trip
// for passwords it would certainly reject.
package password
