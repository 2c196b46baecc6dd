package core

import (
	"net/url"
	"testing"

	fhttp "github.com/bogdanfinn/fhttp"
	"github.com/stretchr/testify/require"
)

func fakeResponse(rawurl, contentType, body string) *Response {
	u, _ := url.Parse(rawurl)
	h := fhttp.Header{}
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	return &Response{StatusCode: 200, Header: h, Body: []byte(body), URL: u}
}

const faceWallPage = `<html><body class="grayBg">
<script type="text/javascript">
var url = ServerHost.moocDomain + _CP_ + "/knowledge/startface?clazzid=1";
window.location.href = url;
</script>
</body></html>`

func TestClassifyCaptchaByPath(t *testing.T) {
	resp := fakeResponse("https://mooc1-api.chaoxing.com/antispiderShowVerify.ac", "text/html", "verify")
	require.Equal(t, ChallengeCaptcha, Classify(resp))
}

func TestClassifyRedirectIsNotChallenge(t *testing.T) {
	resp := fakeResponse("https://mooc1-api.chaoxing.com/antispiderShowVerify.ac", "", "")
	resp.Header.Set("Location", "https://passport2.chaoxing.com/login")
	require.Equal(t, ChallengeNone, Classify(resp))
}

func TestClassifyFaceWall(t *testing.T) {
	resp := fakeResponse("https://mooc1.chaoxing.com/mycourse/studentstudy", "text/html; charset=utf-8", faceWallPage)
	require.Equal(t, ChallengeFace, Classify(resp))
}

func TestClassifyPlainPayload(t *testing.T) {
	resp := fakeResponse("https://mooc1-api.chaoxing.com/gas/clazz", "application/json", `{"data":[]}`)
	require.Equal(t, ChallengeNone, Classify(resp))

	page := `<html><body class="grayBg"><script>console.log(1)</script></body></html>`
	resp = fakeResponse("https://mooc1.chaoxing.com/page", "text/html", page)
	require.Equal(t, ChallengeNone, Classify(resp))
}
