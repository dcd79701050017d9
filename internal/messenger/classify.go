// Package messenger understands Messenger webhook payloads and talks to the
// Messenger Send API.
package messenger

import (
	"github.com/vidstab-bot/messenger-webhook-go/internal/nested"
)

// Keys that identify the two inbound payload shapes. The query-string
// container and the body container are the names the webhook front door
// gives to the request's query parameters and JSON body.
const (
	KeyParams      = "params"
	KeyQueryString = "querystring"
	KeyVerifyToken = "hub.verify_token"
	KeyChallenge   = "hub.challenge"
	KeyBody        = "body-json"
	KeyEntry       = "entry"
)

var (
	challengeKeys = []string{KeyParams, KeyQueryString, KeyVerifyToken, KeyChallenge}
	messageKeys   = []string{KeyBody, KeyEntry}
)

// Kind is the category of an inbound webhook payload.
type Kind int

const (
	KindUnknown Kind = iota
	KindChallenge
	KindUserMessage
)

func (k Kind) String() string {
	switch k {
	case KindChallenge:
		return "challenge"
	case KindUserMessage:
		return "user_message"
	default:
		return "unknown"
	}
}

// Classify decides which kind of payload raw is. The challenge shape is
// checked first, so a payload carrying both shapes is a challenge.
func Classify(raw nested.Mapping) Kind {
	if nested.KeysExist(raw, challengeKeys...) {
		return KindChallenge
	}
	if nested.KeysExist(raw, messageKeys...) {
		return KindUserMessage
	}
	return KindUnknown
}

// VerifyChallenge checks the handshake token in raw against verifyToken and,
// on an exact match, returns the challenge number unchanged. It returns false
// when the token does not match or the challenge is not an integer.
func VerifyChallenge(raw nested.Mapping, verifyToken string) (int64, bool) {
	tokenValue, ok := nested.Find(raw, KeyVerifyToken)
	if !ok {
		return 0, false
	}
	token, ok := nested.AsString(tokenValue)
	if !ok || token != verifyToken {
		return 0, false
	}

	challengeValue, ok := nested.Find(raw, KeyChallenge)
	if !ok {
		return 0, false
	}
	return nested.AsInt(challengeValue)
}
