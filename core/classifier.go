package core

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// ChallengeKind classifies a response as a normal payload or one of the
// anti-bot interception pages the platform swaps in for any request.
type ChallengeKind int

const (
	ChallengeNone ChallengeKind = iota
	ChallengeCaptcha
	ChallengeFace
)

func (k ChallengeKind) String() string {
	switch k {
	case ChallengeNone:
		return "none"
	case ChallengeCaptcha:
		return "captcha"
	case ChallengeFace:
		return "face"
	default:
		return "unknown"
	}
}

var faceScriptPattern = regexp.MustCompile(`var url = ServerHost\.moocDomain \+ _CP_ \+ "/knowledge/startface`)

// Classify inspects a final response. The captcha wall redirects to a fixed
// path; the face wall is a normal 200 carrying an inline redirect script on a
// gray background page.
func Classify(resp *Response) ChallengeKind {
	// Challenge walls never hide behind a redirect.
	if resp.Header.Get("Location") != "" {
		return ChallengeNone
	}
	if resp.URL != nil && strings.HasSuffix(resp.URL.Path, "/antispiderShowVerify.ac") {
		return ChallengeCaptcha
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html") {
		return ChallengeNone
	}
	root, err := html.Parse(strings.NewReader(string(resp.Body)))
	if err != nil {
		return ChallengeNone
	}
	body := findNode(root, byTagClass("body", "grayBg"))
	if body == nil {
		return ChallengeNone
	}
	script := findNode(body, byTag("script"))
	if script == nil {
		return ChallengeNone
	}
	if faceScriptPattern.MatchString(nodeText(script)) {
		return ChallengeFace
	}
	return ChallengeNone
}
