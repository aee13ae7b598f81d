// ABOUTME: Tests for the /wx/{name} callback endpoints
// ABOUTME: Covers the verification handshake, plaintext and encrypted callbacks, and failure acknowledgements

package gateway

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/wxcallback/internal/crypt"
)

func textBody(from string, id int, content string) string {
	return fmt.Sprintf(`<xml>
  <ToUserName><![CDATA[gh_service]]></ToUserName>
  <FromUserName><![CDATA[%s]]></FromUserName>
  <CreateTime>1409304348</CreateTime>
  <MsgType><![CDATA[text]]></MsgType>
  <Content><![CDATA[%s]]></Content>
  <MsgId>%d</MsgId>
</xml>`, from, content, id)
}

func serve(gw *Gateway, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	gw.Handler().ServeHTTP(rec, req)
	return rec
}

// plainPost builds a correctly signed plaintext callback.
func plainPost(name, body string) *http.Request {
	q := url.Values{
		"signature": {crypt.Sign(testToken, testTS, testNonce)},
		"timestamp": {testTS},
		"nonce":     {testNonce},
		"openid":    {"user-a"},
	}
	return httptest.NewRequest(http.MethodPost, "/wx/"+name+"?"+q.Encode(), strings.NewReader(body))
}

// sealedPost builds an encrypted callback the way the platform sends it.
func sealedPost(t *testing.T, env *crypt.Envelope, name, plaintext string) *http.Request {
	t.Helper()
	payload, signature, err := env.Encrypt(plaintext, testTS, testNonce)
	require.NoError(t, err)
	body := fmt.Sprintf("<xml><ToUserName><![CDATA[gh_service]]></ToUserName><Encrypt><![CDATA[%s]]></Encrypt></xml>", payload)

	q := url.Values{
		"signature":     {crypt.Sign(testToken, testTS, testNonce)},
		"msg_signature": {signature},
		"timestamp":     {testTS},
		"nonce":         {testNonce},
		"encrypt_type":  {"aes"},
	}
	return httptest.NewRequest(http.MethodPost, "/wx/"+name+"?"+q.Encode(), strings.NewReader(body))
}

func testEnvelope(t *testing.T) *crypt.Envelope {
	t.Helper()
	env, err := crypt.New(crypt.Secrets{Token: testToken, EncodingAESKey: testAESKey, AppID: testAppID})
	require.NoError(t, err)
	return env
}

func TestHandleVerify(t *testing.T) {
	gw := newTestGateway(t, testConfig(t))

	q := url.Values{
		"signature": {crypt.Sign(testToken, testTS, testNonce)},
		"timestamp": {testTS},
		"nonce":     {testNonce},
		"echostr":   {"5838479218127813673"},
	}
	rec := serve(gw, httptest.NewRequest(http.MethodGet, "/wx/plain?"+q.Encode(), nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "5838479218127813673", rec.Body.String())
}

func TestHandleVerify_BadSignature(t *testing.T) {
	gw := newTestGateway(t, testConfig(t))

	q := url.Values{
		"signature": {"deadbeef"},
		"timestamp": {testTS},
		"nonce":     {testNonce},
		"echostr":   {"echo"},
	}
	rec := serve(gw, httptest.NewRequest(http.MethodGet, "/wx/secure?"+q.Encode(), nil))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "invalid signature\n", rec.Body.String())
}

func TestCallback_UnknownIntegration(t *testing.T) {
	gw := newTestGateway(t, testConfig(t))

	rec := serve(gw, plainPost("nobody", textBody("A", 1, "hi")))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(gw, httptest.NewRequest(http.MethodGet, "/wx/nobody", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCallback_PlainEcho(t *testing.T) {
	gw := newTestGateway(t, testConfig(t))

	rec := serve(gw, plainPost("plain", textBody("A", 42, "hello")))
	require.Equal(t, http.StatusOK, rec.Code)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromString(rec.Body.String()))
	root := doc.Root()
	assert.Equal(t, "A", root.SelectElement("ToUserName").Text())
	assert.Equal(t, "gh_service", root.SelectElement("FromUserName").Text())
	assert.Equal(t, "hello", root.SelectElement("Content").Text())
}

func TestCallback_RedeliveryGetsSameReply(t *testing.T) {
	gw := newTestGateway(t, testConfig(t))

	first := serve(gw, plainPost("plain", textBody("A", 7, "once")))
	second := serve(gw, plainPost("plain", textBody("A", 7, "once")))

	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
}

func TestCallback_PlainBadSignatureIsAcknowledgedEmpty(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Enabled = true
	cfg.Metrics.Path = "/metrics"
	gw := newTestGateway(t, cfg)

	req := httptest.NewRequest(http.MethodPost,
		"/wx/plain?signature=bogus&timestamp="+testTS+"&nonce="+testNonce,
		strings.NewReader(textBody("A", 1, "hi")))
	rec := serve(gw, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())

	metricsRec := serve(gw, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, metricsRec.Body.String(),
		`wxcallback_failures_total{integration="plain",kind="signature_invalid"} 1`)
}

func TestCallback_MalformedBodyIsAcknowledgedEmpty(t *testing.T) {
	gw := newTestGateway(t, testConfig(t))

	rec := serve(gw, plainPost("plain", "<xml><oops"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestCallback_OversizedBodyIsAcknowledgedEmpty(t *testing.T) {
	gw := newTestGateway(t, testConfig(t))

	big := textBody("A", 1, strings.Repeat("x", maxCallbackBody+1))
	rec := serve(gw, plainPost("plain", big))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestCallback_EncryptedRoundTrip(t *testing.T) {
	gw := newTestGateway(t, testConfig(t))
	env := testEnvelope(t)

	rec := serve(gw, sealedPost(t, env, "secure", textBody("B", 9, "secret")))
	require.Equal(t, http.StatusOK, rec.Code)

	reply := rec.Body.String()
	assert.NotContains(t, reply, "secret")

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromString(reply))
	sig := doc.Root().SelectElement("MsgSignature").Text()

	opened, err := env.VerifyAndDecrypt(sig, testTS, testNonce, []byte(reply))
	require.NoError(t, err)
	assert.Contains(t, opened, "<Content><![CDATA[secret]]></Content>")
}

func TestCallback_EncryptedTamperedSignature(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Enabled = true
	cfg.Metrics.Path = "/metrics"
	gw := newTestGateway(t, cfg)
	env := testEnvelope(t)

	req := sealedPost(t, env, "secure", textBody("B", 10, "secret"))
	q := req.URL.Query()
	q.Set("msg_signature", strings.Repeat("0", 40))
	req.URL.RawQuery = q.Encode()

	rec := serve(gw, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())

	metricsRec := serve(gw, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, metricsRec.Body.String(),
		`wxcallback_failures_total{integration="secure",kind="signature_invalid"} 1`)
}
