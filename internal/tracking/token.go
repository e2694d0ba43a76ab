// Package tracking builds the per-recipient open-tracking pixel and the
// unsubscribe/privacy footer, and the tokens those links carry.
//
// Tokens are URL-safe base64 of plaintext identifiers. They are neither
// signed nor expiring: anyone can mint an unsubscribe token for any address.
package tracking

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

var encoding = base64.URLEncoding

// TrackingToken encodes "email:campaignID".
func TrackingToken(email string, campaignID int) string {
	return encoding.EncodeToString([]byte(email + ":" + strconv.Itoa(campaignID)))
}

// UnsubscribeToken encodes the address alone.
func UnsubscribeToken(email string) string {
	return encoding.EncodeToString([]byte(email))
}

// ParseTrackingToken reverses TrackingToken.
func ParseTrackingToken(token string) (string, int, error) {
	raw, err := encoding.DecodeString(token)
	if err != nil {
		return "", 0, fmt.Errorf("decode tracking token: %w", err)
	}
	i := strings.LastIndexByte(string(raw), ':')
	if i <= 0 {
		return "", 0, fmt.Errorf("malformed tracking token")
	}
	id, err := strconv.Atoi(string(raw[i+1:]))
	if err != nil {
		return "", 0, fmt.Errorf("malformed tracking token: %w", err)
	}
	return string(raw[:i]), id, nil
}

// ParseUnsubscribeToken reverses UnsubscribeToken.
func ParseUnsubscribeToken(token string) (string, error) {
	raw, err := encoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("decode unsubscribe token: %w", err)
	}
	return string(raw), nil
}
