package core

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"log"
	"math/rand"
	"mime/multipart"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

const (
	apiPanToken       = "https://pan-yz.chaoxing.com/api/token/uservalid"
	apiFaceUpload     = "https://pan-yz.chaoxing.com/upload"
	apiFaceSubmit     = "https://mooc1-api.chaoxing.com/mooc-ans/knowledge/uploadInfo"
	apiFaceSubmitNew  = "https://mooc1-api.chaoxing.com/mooc-ans/facephoto/clientfacecheckstatus"
	apiFaceSubmitExam = "https://mooc1-api.chaoxing.com/exam-ans/exam/phone/face-compare"
)

var faceStartPattern = regexp.MustCompile(`"/knowledge/startface\?(\S+)"`)

// FaceResolver runs the face-collection flow: obtain a cloud-drive upload
// token, upload a stored face photo and confirm the check against the course
// context that demanded it.
type FaceResolver struct {
	session     *Session
	uploadToken string
}

func NewFaceResolver(session *Session) *FaceResolver {
	return &FaceResolver{session: session}
}

// FetchUploadToken validates the account against the cloud drive and stores
// the upload token for subsequent calls.
func (f *FaceResolver) FetchUploadToken(ctx context.Context) error {
	resp, err := f.session.Do(ctx, Request{URL: apiPanToken, NoChallenge: true})
	if err != nil {
		return &FaceError{Stage: "token", Err: err}
	}
	var body struct {
		Result bool   `json:"result"`
		Token  string `json:"_token"`
	}
	if err := resp.JSON(&body); err != nil {
		return &FaceError{Stage: "token", Err: err}
	}
	if !body.Result {
		return &FaceError{Stage: "token", Err: fmt.Errorf("pan token denied")}
	}
	f.uploadToken = body.Token
	return nil
}

// perturbPixels flips up to five random pixels by a couple of intensity
// levels on one channel. Re-uploading a byte-identical photo trips the
// platform's duplicate-image check.
func perturbPixels(img image.Image) *image.RGBA {
	bounds := img.Bounds()
	out := image.NewRGBA(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			out.Set(x, y, img.At(x, y))
		}
	}
	for i := 0; i < rand.Intn(5); i++ {
		x := bounds.Min.X + rand.Intn(bounds.Dx())
		y := bounds.Min.Y + rand.Intn(bounds.Dy())
		ch := rand.Intn(3)
		off := out.PixOffset(x, y) + ch
		delta := rand.Intn(4) - 2
		v := int(out.Pix[off]) + delta
		if v < 0 {
			v = 0
		} else if v > 255 {
			v = 255
		}
		out.Pix[off] = uint8(v)
	}
	return out
}

// UploadFace uploads the photo at path and returns the platform objectId.
func (f *FaceResolver) UploadFace(ctx context.Context, path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", &FaceError{Stage: "upload", Err: err}
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return "", &FaceError{Stage: "upload", Err: fmt.Errorf("decode %s: %v", path, err)}
	}
	var jpg bytes.Buffer
	if err := jpeg.Encode(&jpg, perturbPixels(img), &jpeg.Options{Quality: 95}); err != nil {
		return "", &FaceError{Stage: "upload", Err: err}
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", Timestamp()+".jpg")
	if err != nil {
		return "", &FaceError{Stage: "upload", Err: err}
	}
	fw.Write(jpg.Bytes())
	mw.Close()

	resp, err := f.session.Do(ctx, Request{
		Method: "POST",
		URL:    apiFaceUpload,
		Params: url.Values{
			"uploadtype": {"face"},
			"_token":     {f.uploadToken},
			"puid":       {strconv.FormatInt(f.session.Acc.PUID, 10)},
		},
		Body:        &buf,
		ContentType: mw.FormDataContentType(),
		NoChallenge: true,
	})
	if err != nil {
		return "", &FaceError{Stage: "upload", Err: err}
	}
	var body struct {
		Result   bool   `json:"result"`
		ObjectID string `json:"objectId"`
		Data     struct {
			PreviewURL string `json:"previewUrl"`
		} `json:"data"`
	}
	if err := resp.JSON(&body); err != nil {
		return "", &FaceError{Stage: "upload", Err: err}
	}
	if !body.Result {
		return "", &FaceError{Stage: "upload", Err: fmt.Errorf("upload rejected")}
	}
	log.Printf("face uploaded I.%s/U.%s", body.ObjectID, body.Data.PreviewURL)
	return body.ObjectID, nil
}

// SubmitKnowledge confirms a chapter-level face check through the legacy
// endpoint.
func (f *FaceResolver) SubmitKnowledge(ctx context.Context, classID, courseID, knowledgeID, objectID string) error {
	resp, err := f.session.Do(ctx, Request{
		Method: "POST",
		URL:    apiFaceSubmit,
		Form: url.Values{
			"clazzId":     {classID},
			"courseId":    {courseID},
			"knowledgeId": {knowledgeID},
			"uuid":        {""},
			"qrcEnc":      {""},
			"objectId":    {objectID},
		},
		NoChallenge: true,
	})
	if err != nil {
		return &FaceError{Stage: "submit", Err: err}
	}
	return faceSubmitStatus(resp)
}

// SubmitChapter confirms a chapter-level face check through the newer
// client endpoint.
func (f *FaceResolver) SubmitChapter(ctx context.Context, courseID, classID, cpi, chapterID, objectID string) error {
	resp, err := f.session.Do(ctx, Request{
		URL: apiFaceSubmitNew,
		Params: url.Values{
			"courseId":  {courseID},
			"clazzId":   {classID},
			"cpi":       {cpi},
			"chapterId": {chapterID},
			"objectId":  {objectID},
			"type":      {"1"},
		},
		NoChallenge: true,
	})
	if err != nil {
		return &FaceError{Stage: "submit", Err: err}
	}
	return faceSubmitStatus(resp)
}

// ExamFaceResult carries the compare key and object ids the exam start call
// replays inside its liveness payload.
type ExamFaceResult struct {
	FaceKey         string
	CollectObjectID string
	FaceObjectID    string
}

// SubmitExam confirms the face compare an exam cover demands.
func (f *FaceResolver) SubmitExam(ctx context.Context, examID, courseID, classID, cpi int64, objectID string) (*ExamFaceResult, error) {
	resp, err := f.session.Do(ctx, Request{
		URL: apiFaceSubmitExam,
		Params: url.Values{
			"relationid":          {strconv.FormatInt(examID, 10)},
			"courseId":            {strconv.FormatInt(courseID, 10)},
			"classId":             {strconv.FormatInt(classID, 10)},
			"currentFaceId":       {objectID},
			"liveDetectionStatus": {"1"},
			"cpi":                 {strconv.FormatInt(cpi, 10)},
		},
		NoChallenge: true,
	})
	if err != nil {
		return nil, &FaceError{Stage: "compare", Err: err}
	}
	var body struct {
		Status  bool   `json:"status"`
		Msg     string `json:"msg"`
		FaceKey string `json:"facekey"`
		Detail  struct {
			CollectObjectID string `json:"collectObjectId"`
			FaceObjectID    string `json:"faceObjectId"`
		} `json:"detail"`
	}
	if err := resp.JSON(&body); err != nil {
		return nil, &FaceError{Stage: "compare", Err: err}
	}
	if !body.Status {
		return nil, &FaceError{Stage: "compare", Err: fmt.Errorf("rejected: %s", body.Msg)}
	}
	return &ExamFaceResult{
		FaceKey:         body.FaceKey,
		CollectObjectID: body.Detail.CollectObjectID,
		FaceObjectID:    body.Detail.FaceObjectID,
	}, nil
}

func faceSubmitStatus(resp *Response) error {
	var body struct {
		Status bool   `json:"status"`
		Msg    string `json:"msg"`
	}
	if err := resp.JSON(&body); err != nil {
		return &FaceError{Stage: "submit", Err: err}
	}
	if !body.Status {
		return &FaceError{Stage: "submit", Err: fmt.Errorf("rejected: %s", body.Msg)}
	}
	return nil
}

// resolveFace clears a face wall. The wall page embeds the startface URL
// whose query names the course context to confirm against.
func (s *Session) resolveFace(ctx context.Context, resp *Response) error {
	if s.facePath == nil {
		return &FaceError{Stage: "start", Err: fmt.Errorf("no face image source configured")}
	}
	root, err := html.Parse(strings.NewReader(resp.Text()))
	if err != nil {
		return &FaceError{Stage: "start", Err: err}
	}
	body := findNode(root, byTagClass("body", "grayBg"))
	if body == nil {
		return &FaceError{Stage: "start", Err: fmt.Errorf("wall page shape changed")}
	}
	script := findNode(body, byTag("script"))
	if script == nil {
		return &FaceError{Stage: "start", Err: fmt.Errorf("wall page missing script")}
	}
	m := faceStartPattern.FindStringSubmatch(nodeText(script))
	if m == nil {
		return &FaceError{Stage: "start", Err: fmt.Errorf("startface url not found")}
	}
	query, err := url.ParseQuery(m[1])
	if err != nil {
		return &FaceError{Stage: "start", Err: err}
	}

	path, ok := s.facePath(s.Acc.PUID)
	if !ok {
		return &FaceError{Stage: "start", Err: fmt.Errorf("no face image for puid %d", s.Acc.PUID)}
	}
	log.Printf("face wall hit, uploading %q", path)
	s.observer.OnFaceUpload()

	if err := s.sleep(ctx, s.captchaDelay); err != nil {
		return err
	}
	resolver := NewFaceResolver(s)
	if err := resolver.FetchUploadToken(ctx); err != nil {
		return err
	}
	objectID, err := resolver.UploadFace(ctx, path)
	if err != nil {
		return err
	}
	err = resolver.SubmitKnowledge(ctx,
		query.Get("clazzid"), query.Get("courseid"), query.Get("knowledgeid"), objectID)
	if err != nil {
		return err
	}
	s.observer.OnFaceDone()
	log.Printf("face check cleared")
	return nil
}
