// Package mediatoken issues the ephemeral credential that authorizes a
// participant to join the external real-time media channel for a call. The
// server never touches media; it only hands out this credential alongside
// the channel name.
package mediatoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Role selects the privilege level inside the media channel.
type Role string

const (
	RolePublisher  Role = "publisher"
	RoleSubscriber Role = "subscriber"
)

// RoleFromString maps a client-supplied role name, defaulting to subscriber
// for anything unrecognized.
func RoleFromString(s string) Role {
	if s == string(RolePublisher) {
		return RolePublisher
	}
	return RoleSubscriber
}

const tokenVersion = "001"

var (
	ErrInvalidArgument = errors.New("mediatoken: invalid argument")
	ErrInvalidToken    = errors.New("mediatoken: invalid token")
)

// Builder signs media tokens for one application identity.
type Builder struct {
	AppID          string
	AppCertificate string
}

// Claims are the fields bound into a token.
type Claims struct {
	AppID       string
	ChannelName string
	SubjectID   string
	Role        Role
	ExpireAt    int64 // epoch seconds
}

// Build returns a signed token for subjectID to join channelName until
// expireAt. It is a pure function of its inputs; the caller decides the TTL
// and there are no retries.
func (b Builder) Build(channelName, subjectID string, role Role, expireAt int64) (string, error) {
	if b.AppID == "" || b.AppCertificate == "" {
		return "", ErrInvalidArgument
	}
	if channelName == "" || subjectID == "" {
		return "", ErrInvalidArgument
	}
	if expireAt <= 0 {
		return "", ErrInvalidArgument
	}
	if role != RolePublisher && role != RoleSubscriber {
		role = RoleSubscriber
	}

	msg := signedMessage(b.AppID, channelName, subjectID, role, expireAt)
	sig := sign(b.AppCertificate, msg)
	return tokenVersion + base64.RawURLEncoding.EncodeToString([]byte(msg+":"+sig)), nil
}

// Verify parses a token and checks its signature. Expiry is the caller's
// concern; the returned claims carry the bound deadline.
func (b Builder) Verify(token string) (Claims, error) {
	if !strings.HasPrefix(token, tokenVersion) {
		return Claims{}, ErrInvalidToken
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(token, tokenVersion))
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	parts := strings.Split(string(raw), ":")
	if len(parts) != 6 {
		return Claims{}, ErrInvalidToken
	}
	expireAt, err := strconv.ParseInt(parts[4], 10, 64)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	c := Claims{
		AppID:       parts[0],
		ChannelName: parts[1],
		SubjectID:   parts[2],
		Role:        Role(parts[3]),
		ExpireAt:    expireAt,
	}
	want := sign(b.AppCertificate, signedMessage(c.AppID, c.ChannelName, c.SubjectID, c.Role, c.ExpireAt))
	if subtle.ConstantTimeCompare([]byte(want), []byte(parts[5])) != 1 {
		return Claims{}, ErrInvalidToken
	}
	return c, nil
}

func signedMessage(appID, channel, subject string, role Role, expireAt int64) string {
	return fmt.Sprintf("%s:%s:%s:%s:%d", appID, channel, subject, role, expireAt)
}

func sign(certificate, msg string) string {
	h := hmac.New(sha256.New, []byte(certificate))
	h.Write([]byte(msg))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}
