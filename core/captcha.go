package core

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/dop251/goja"
	"github.com/google/uuid"
)

const (
	apiCaptchaConf  = "https://captcha.chaoxing.com/captcha/get/conf"
	apiCaptchaImg   = "https://captcha.chaoxing.com/captcha/get/verification/image"
	apiCaptchaCheck = "https://captcha.chaoxing.com/captcha/check/verification/result"
)

// ImageCaptchaType selects the challenge flavor a protected endpoint uses.
type ImageCaptchaType string

const (
	CaptchaSlide     ImageCaptchaType = "slide"
	CaptchaTextClick ImageCaptchaType = "textclick"
	CaptchaRotate    ImageCaptchaType = "rotate"
	CaptchaIconClick ImageCaptchaType = "iconclick"
	CaptchaObstacle  ImageCaptchaType = "obstacle"
)

// decodeJSONP evaluates a cx_captcha_function(...) envelope and returns the
// wrapped object as plain JSON. The payloads are emitted by a JS backend and
// occasionally carry non-strict literals, so they are run through a JS
// engine rather than trimmed textually.
func decodeJSONP(payload string, v any) error {
	vm := goja.New()
	var captured string
	vm.Set("cx_captcha_function", func(call goja.FunctionCall) goja.Value {
		data, err := json.Marshal(call.Argument(0).Export())
		if err == nil {
			captured = string(data)
		}
		return goja.Undefined()
	})
	if _, err := vm.RunString(payload); err != nil {
		return fmt.Errorf("jsonp eval: %v", err)
	}
	if captured == "" {
		return fmt.Errorf("jsonp envelope missing callback payload")
	}
	return json.Unmarshal([]byte(captured), v)
}

// ImageCaptcha drives one verification round against the dedicated captcha
// backend. Token and iv are single use; build a fresh value per round.
type ImageCaptcha struct {
	session *Session

	CaptchaID string
	Type      ImageCaptchaType
	Version   string

	serverTime int64
	iv         string
	token      string
}

func NewImageCaptcha(session *Session, captchaID string, typ ImageCaptchaType) *ImageCaptcha {
	return &ImageCaptcha{
		session:   session,
		CaptchaID: captchaID,
		Type:      typ,
		Version:   "1.1.20",
	}
}

// FetchServerTime reads the backend clock the token digests are bound to.
func (c *ImageCaptcha) FetchServerTime(ctx context.Context) error {
	resp, err := c.session.Do(ctx, Request{
		URL: apiCaptchaConf,
		Params: url.Values{
			"callback":  {"cx_captcha_function"},
			"captchaId": {c.CaptchaID},
			"_":         {Timestamp()},
		},
		NoChallenge: true,
	})
	if err != nil {
		return err
	}
	var conf struct {
		T int64 `json:"t"`
	}
	if err := decodeJSONP(resp.Text(), &conf); err != nil {
		return fmt.Errorf("captcha conf: %v", err)
	}
	c.serverTime = conf.T
	return nil
}

// FetchImages returns the challenge image pair. For slide challenges the
// first image is the shaded background and the second the cutout piece.
func (c *ImageCaptcha) FetchImages(ctx context.Context, referer string) (shade, cutout []byte, err error) {
	shadeURL, cutoutURL, err := c.fetchImageURLs(ctx, referer)
	if err != nil {
		return nil, nil, err
	}
	if shade, err = c.fetchImage(ctx, shadeURL); err != nil {
		return nil, nil, err
	}
	if cutoutURL != "" {
		if cutout, err = c.fetchImage(ctx, cutoutURL); err != nil {
			return nil, nil, err
		}
	}
	return shade, cutout, nil
}

func (c *ImageCaptcha) fetchImageURLs(ctx context.Context, referer string) (string, string, error) {
	ts := Timestamp()
	captchaKey := MD5Hex(strconv.FormatInt(c.serverTime, 10) + uuid.NewString())
	c.iv = MD5Hex(c.CaptchaID + string(c.Type) + ts + uuid.NewString())
	token := MD5Hex(fmt.Sprintf("%d%s%s%s", c.serverTime, c.CaptchaID, c.Type, captchaKey)) +
		fmt.Sprintf(":%d", c.serverTime+300000)

	resp, err := c.session.Do(ctx, Request{
		URL: apiCaptchaImg,
		Params: url.Values{
			"callback":   {"cx_captcha_function"},
			"captchaId":  {c.CaptchaID},
			"type":       {string(c.Type)},
			"version":    {c.Version},
			"captchaKey": {captchaKey},
			"token":      {token},
			"referer":    {referer},
			"iv":         {c.iv},
			"_":          {Timestamp()},
		},
		NoChallenge: true,
	})
	if err != nil {
		return "", "", err
	}
	var body struct {
		Token string `json:"token"`
		Vo    struct {
			ShadeImage  string `json:"shadeImage"`
			CutoutImage string `json:"cutoutImage"`
		} `json:"imageVerificationVo"`
	}
	if err := decodeJSONP(resp.Text(), &body); err != nil {
		return "", "", fmt.Errorf("captcha image meta: %v", err)
	}
	c.token = body.Token
	return body.Vo.ShadeImage, body.Vo.CutoutImage, nil
}

func (c *ImageCaptcha) fetchImage(ctx context.Context, imageURL string) ([]byte, error) {
	resp, err := c.session.Do(ctx, Request{URL: imageURL, NoChallenge: true})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("captcha image download failed (status %d)", resp.StatusCode)
	}
	return resp.Body, nil
}

// SubmitSlide validates a slide answer. The backend wants the piece offset
// as a percentage of background width, wrapped in a coordinate array.
func (c *ImageCaptcha) SubmitSlide(ctx context.Context, offsetPercent float64) (string, error) {
	arr, _ := json.Marshal([]map[string]float64{{"x": offsetPercent}})
	return c.submit(ctx, string(arr))
}

// SubmitClicks validates a text-click answer with absolute coordinates.
func (c *ImageCaptcha) SubmitClicks(ctx context.Context, points [][2]int) (string, error) {
	arr := make([]map[string]int, 0, len(points))
	for _, p := range points {
		arr = append(arr, map[string]int{"x": p[0], "y": p[1]})
	}
	data, _ := json.Marshal(arr)
	return c.submit(ctx, string(data))
}

func (c *ImageCaptcha) submit(ctx context.Context, clickArr string) (string, error) {
	resp, err := c.session.Do(ctx, Request{
		URL: apiCaptchaCheck,
		Params: url.Values{
			"callback":     {"cx_captcha_function"},
			"captchaId":    {c.CaptchaID},
			"type":         {string(c.Type)},
			"token":        {c.token},
			"textClickArr": {clickArr},
			"coordinate":   {"[]"},
			"runEnv":       {"10"},
			"version":      {c.Version},
			"t":            {"a"},
			"iv":           {c.iv},
			"_":            {Timestamp()},
		},
		NoChallenge: true,
	})
	if err != nil {
		return "", err
	}
	var body struct {
		Result    bool   `json:"result"`
		ExtraData string `json:"extraData"`
	}
	if err := decodeJSONP(resp.Text(), &body); err != nil {
		return "", fmt.Errorf("captcha check: %v", err)
	}
	if !body.Result {
		return "", fmt.Errorf("captcha answer rejected")
	}
	var extra struct {
		Validate string `json:"validate"`
	}
	if err := json.Unmarshal([]byte(body.ExtraData), &extra); err != nil {
		return "", fmt.Errorf("captcha extra data: %v", err)
	}
	return extra.Validate, nil
}
