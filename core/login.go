package core

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

const (
	apiLoginWeb  = "https://passport2.chaoxing.com/fanyalogin"
	apiQRCreate  = "https://passport2.chaoxing.com/createqr"
	apiQRLogin   = "https://passport2.chaoxing.com/getauthstatus"
	apiSSOLogin  = "https://sso.chaoxing.com/apis/login/userLogin4Uname.do"
	pageLogin    = "https://passport2.chaoxing.com/login"
	apiClassList = "https://mooc1-api.chaoxing.com/mycourse/backclazzdata"
)

// LoginPassword signs in with phone and password through the web form. The
// credential fields travel AES encrypted.
func (s *Session) LoginPassword(ctx context.Context, phone, passwd string) error {
	encPhone, err := EncryptLoginField(phone)
	if err != nil {
		return err
	}
	encPasswd, err := EncryptLoginField(passwd)
	if err != nil {
		return err
	}
	resp, err := s.Do(ctx, Request{
		Method: "POST",
		URL:    apiLoginWeb,
		Form: url.Values{
			"fid":              {"-1"},
			"uname":            {encPhone},
			"password":         {encPasswd},
			"t":                {"true"},
			"forbidotherlogin": {"0"},
			"validate":         {""},
		},
	})
	if err != nil {
		return err
	}
	var body struct {
		Status bool   `json:"status"`
		Msg2   string `json:"msg2"`
	}
	if err := resp.JSON(&body); err != nil {
		return err
	}
	if !body.Status {
		if body.Msg2 != "" {
			return fmt.Errorf("%w: %s", ErrLoginFailed, body.Msg2)
		}
		return ErrLoginFailed
	}
	return nil
}

// QRLogin drives the scan-to-login flow: FetchQR activates a key pair, URL
// renders the code content and Poll reports the scan status.
type QRLogin struct {
	session *Session
	uuid    string
	enc     string
}

func NewQRLogin(session *Session) *QRLogin {
	return &QRLogin{session: session}
}

// FetchQR pulls the login page for a fresh key pair and activates it. The
// page rejects the mobile user agent, so this one call impersonates a
// desktop browser.
func (q *QRLogin) FetchQR(ctx context.Context) error {
	resp, err := q.session.Do(ctx, Request{
		URL:    pageLogin,
		Header: map[string]string{"User-Agent": WebUA()},
	})
	if err != nil {
		return err
	}
	root, err := html.Parse(strings.NewReader(resp.Text()))
	if err != nil {
		return err
	}
	uuidNode := findNode(root, byID("uuid"))
	encNode := findNode(root, byID("enc"))
	if uuidNode == nil || encNode == nil {
		return fmt.Errorf("qr login: key fields not found on login page")
	}
	q.uuid = attrVal(uuidNode, "value")
	q.enc = attrVal(encNode, "value")

	// Activate the key. The returned image bytes are discarded, the code
	// content is rendered locally from URL instead.
	_, err = q.session.Get(ctx, apiQRCreate, url.Values{"uuid": {q.uuid}, "fid": {"-1"}})
	return err
}

// URL returns the content the QR code must encode.
func (q *QRLogin) URL() string {
	return fmt.Sprintf(
		"https://passport2.chaoxing.com/toauthlogin?uuid=%s&enc=%s&xxtrefer=&clientid=&type=0&mobiletip=",
		q.uuid, q.enc)
}

// Poll checks whether the code was scanned and confirmed.
func (q *QRLogin) Poll(ctx context.Context) (bool, error) {
	resp, err := q.session.PostForm(ctx, apiQRLogin, url.Values{
		"enc":  {q.enc},
		"uuid": {q.uuid},
	})
	if err != nil {
		return false, err
	}
	var body struct {
		Status bool `json:"status"`
	}
	if err := resp.JSON(&body); err != nil {
		return false, err
	}
	return body.Status, nil
}

// FetchAccInfo loads the signed-in profile into the session and doubles as
// the cookie validity probe.
func (s *Session) FetchAccInfo(ctx context.Context) error {
	resp, err := s.Get(ctx, apiSSOLogin, nil)
	if err != nil {
		return err
	}
	var body struct {
		Result int `json:"result"`
		Msg    struct {
			PUID       int64  `json:"puid"`
			Name       string `json:"name"`
			Sex        int    `json:"sex"`
			Phone      string `json:"phone"`
			SchoolName string `json:"schoolname"`
			UName      string `json:"uname"`
		} `json:"msg"`
	}
	if err := resp.JSON(&body); err != nil {
		return err
	}
	if body.Result == 0 {
		return ErrSessionExpired
	}
	sex := "女"
	if body.Msg.Sex == 1 {
		sex = "男"
	}
	s.Acc = AccountInfo{
		PUID:   body.Msg.PUID,
		Name:   body.Msg.Name,
		Sex:    sex,
		Phone:  body.Msg.Phone,
		School: body.Msg.SchoolName,
		StuID:  body.Msg.UName,
	}
	return nil
}
