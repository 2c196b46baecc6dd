package core

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	mrand "math/rand"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Synthetic device identity, generated once per process.
var (
	deviceIMEI     = randomHex(16)
	androidVersion = fmt.Sprintf("Android %d", 9+mrand.Intn(4))
	deviceVendor   = fmt.Sprintf("MI%d", 10+mrand.Intn(3))
)

const appVersion = "com.chaoxing.mobile/ChaoXingStudy_3_5.1.4_android_phone_614_74"

func randomHex(n int) string {
	buf := make([]byte, n)
	rand.Read(buf)
	return hex.EncodeToString(buf)
}

// Timestamp returns the current unix time in milliseconds as a string.
func Timestamp() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}

// IMEI returns the synthetic device identifier for this process.
func IMEI() string { return deviceIMEI }

// MobileUA returns the in-app Dalvik user agent. Some endpoints are app only
// and reject web browsers.
func MobileUA() string {
	return strings.Join([]string{
		fmt.Sprintf("Dalvik/2.1.0 (Linux; U; %s; %s Build/SKQ1.210216.001)", androidVersion, deviceVendor),
		fmt.Sprintf("(device:%s)", deviceVendor),
		"Language/zh_CN",
		appVersion,
		fmt.Sprintf("(@Kalimdor)_%s", deviceIMEI),
	}, " ")
}

// WebUA returns a desktop browser user agent for web-only endpoints.
func WebUA() string {
	return "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/107.0.0.0 Safari/537.36 Edg/107.0.1418.35"
}

const infEncKey = "Z(AfY@XS"

// InfEnc signs a request form with the inf_enc checksum the mobile endpoints
// verify. The digest covers the urlencoded form with the shared key appended.
func InfEnc(params url.Values) url.Values {
	query := params.Encode() + "&DESKey=" + infEncKey
	sum := md5.Sum([]byte(query))
	out := url.Values{}
	for k, v := range params {
		out[k] = v
	}
	out.Set("inf_enc", hex.EncodeToString(sum[:]))
	return out
}

// MD5Hex returns the lowercase hex md5 of s.
func MD5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

const loginAESKey = "u2oh6Vu^HWe4_AES"

// EncryptLoginField encrypts a credential field for the password login form.
// AES-CBC with the key doubling as IV, PKCS7 padding, base64 output.
func EncryptLoginField(plain string) (string, error) {
	block, err := aes.NewCipher([]byte(loginAESKey))
	if err != nil {
		return "", err
	}
	pad := aes.BlockSize - len(plain)%aes.BlockSize
	buf := make([]byte, len(plain)+pad)
	copy(buf, plain)
	for i := len(plain); i < len(buf); i++ {
		buf[i] = byte(pad)
	}
	cipher.NewCBCEncrypter(block, []byte(loginAESKey)).CryptBlocks(buf, buf)
	return base64.StdEncoding.EncodeToString(buf), nil
}

// ExamSignature is the pos/rd/value/_edt parameter group the exam submit
// endpoints verify. The scheme obfuscates a fake click coordinate with a
// linear congruential keystream seeded from the uid and a salted hash.
type ExamSignature struct {
	Pos   string
	Rd    float64
	Value string
	Edt   string
}

// NewExamSignature computes the signature group for a submit call. qid may be
// zero for paper-level calls; x and y are screen click coordinates.
func NewExamSignature(uid, qid int64, x, y int) ExamSignature {
	ts := Timestamp()
	r1 := mrand.Intn(9)
	r2 := mrand.Intn(9)
	seed := randomHex(16) + ts[4:] + strconv.Itoa(r1) + strconv.Itoa(r2)
	if qid != 0 {
		seed += strconv.FormatInt(qid, 10)
	}
	// Wraparound arithmetic is congruent to the reference's unbounded
	// integers modulo 2^31, which is all the mask below keeps.
	var temp int64
	for _, ch := range seed {
		temp = (temp << 5) - temp + int64(ch)
	}
	salt := fmt.Sprintf("%d%d%d", r1, r2, (0x7fffffff&temp)%10)

	encVal := strconv.FormatInt(uid, 10)
	if qid != 0 {
		encVal += "_" + strconv.FormatInt(qid, 10)
	}
	encVal += "|" + salt
	var digits strings.Builder
	for _, ch := range encVal {
		digits.WriteString(strconv.Itoa(int(ch)))
	}
	encVal2 := digits.String()
	b := len(encVal2) / 5
	c, _ := strconv.ParseInt(string([]byte{encVal2[b], encVal2[2*b], encVal2[3*b], encVal2[4*b]}), 10, 64)
	d := int64(len(encVal)/2 + 1)
	head, _ := strconv.ParseInt(encVal2[:10], 10, 64)
	e := (c*head + d) % 0x7FFFFFFF

	pos := fmt.Sprintf("(%d|%d)", x, y)
	var enc strings.Builder
	for _, ch := range pos {
		k := int64(float64(e) / 0x7FFFFFFF * 0xFF)
		fmt.Fprintf(&enc, "%02x", int64(ch)^k)
		e = (c*e + d) % 0x7FFFFFFF
	}

	return ExamSignature{
		Pos:   enc.String() + randomHex(4),
		Rd:    mrand.Float64(),
		Value: pos,
		Edt:   ts + salt,
	}
}

// Fill adds the signature group to a form.
func (s ExamSignature) Fill(form url.Values) {
	form.Set("pos", s.Pos)
	form.Set("rd", strconv.FormatFloat(s.Rd, 'f', -1, 64))
	form.Set("value", s.Value)
	form.Set("_edt", s.Edt)
}

// CleanText strips the whitespace placeholders the SSR pages pad question
// text with.
func CleanText(text string) string {
	text = strings.ReplaceAll(text, " ", " ")
	text = strings.TrimSpace(text)
	for _, r := range []string{" ", "​", "　"} {
		text = strings.ReplaceAll(text, r, "")
	}
	return text
}
