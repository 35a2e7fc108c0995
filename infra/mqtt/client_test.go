package mqtt

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coremqtt "github.com/kilianp07/sohbench/core/mqtt"
)

// helper to generate self-signed cert
func generateCert(t *testing.T) (certFile, keyFile, caFile string) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := x509.Certificate{SerialNumber: big.NewInt(1), Subject: pkix.Name{CommonName: "test"}, NotBefore: time.Now(), NotAfter: time.Now().Add(time.Hour)}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	require.NoError(t, err)
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})

	dir := t.TempDir()
	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	caFile = filepath.Join(dir, "ca.pem")
	require.NoError(t, os.WriteFile(certFile, certPEM, 0o644))
	require.NoError(t, os.WriteFile(keyFile, keyPEM, 0o644))
	require.NoError(t, os.WriteFile(caFile, certPEM, 0o644))
	return
}

func withMock(t *testing.T, mc *mockClient) {
	t.Helper()
	newMQTTClient = func(o *paho.ClientOptions) pahoClient { mc.opts = o; return mc }
	t.Cleanup(func() { newMQTTClient = func(opts *paho.ClientOptions) pahoClient { return paho.NewClient(opts) } })
}

func TestLoadTLSConfig(t *testing.T) {
	cert, key, ca := generateCert(t)
	cfg := Config{UseTLS: true, ClientCert: cert, ClientKey: key, CABundle: ca}
	tlsCfg, err := cfg.LoadTLSConfig()
	require.NoError(t, err)
	assert.NotEmpty(t, tlsCfg.Certificates)
	assert.NotNil(t, tlsCfg.RootCAs)

	_, err = Config{UseTLS: true}.LoadTLSConfig()
	assert.Error(t, err)
}

func TestNewClientOptionsAuth(t *testing.T) {
	opts, err := NewClientOptions(Config{Broker: "tcp://localhost:1883", ClientID: "id", Username: "u", Password: "p"})
	require.NoError(t, err)
	assert.Equal(t, "u", opts.Username)
	assert.Equal(t, "p", opts.Password)
}

func TestConfigDefaults(t *testing.T) {
	var c Config
	assert.False(t, c.Enabled())
	c.SetDefaults()
	assert.True(t, strings.HasPrefix(c.ClientID, "sohbench-"))
	assert.Equal(t, coremqtt.DefaultPrefix, c.TopicPrefix)
	assert.Equal(t, 3, c.MaxRetries)
}

func TestQoSAndResubscribe(t *testing.T) {
	mc := &mockClient{}
	withMock(t, mc)
	cli, err := NewPahoClient(Config{Broker: "tcp://localhost:1883", ClientID: "id", QoS: 1})
	require.NoError(t, err)

	var got []string
	require.NoError(t, cli.Subscribe("soh/+/observation", func(topic string, _ []byte) { got = append(got, topic) }))
	require.Len(t, mc.subscribed, 1)
	assert.Equal(t, byte(1), mc.subscribed[0].qos)

	// a reconnect replays the subscription
	mc.opts.OnConnect(mc)
	require.Len(t, mc.subscribed, 2)
	assert.Equal(t, "soh/+/observation", mc.subscribed[1].topic)

	mc.subscribed[1].handler(nil, mockMessage{topic: "soh/u/observation"})
	assert.Equal(t, []string{"soh/u/observation"}, got)

	require.NoError(t, cli.Publish("soh/u/estimate", []byte("{}")))
	require.Len(t, mc.published, 1)
	assert.Equal(t, byte(1), mc.published[0].qos)
}

func TestLWTConfigured(t *testing.T) {
	mc := &mockClient{}
	withMock(t, mc)
	cli, err := NewPahoClient(Config{Broker: "tcp://localhost:1883", ClientID: "id", LWTTopic: "lwt", LWTPayload: "bye", LWTQoS: 1})
	require.NoError(t, err)
	assert.True(t, mc.opts.WillEnabled)
	assert.Equal(t, "lwt", mc.opts.WillTopic)
	assert.Equal(t, "bye", string(mc.opts.WillPayload))
	cli.Disconnect()
	assert.Empty(t, mc.published)
}

func TestRetryLogic(t *testing.T) {
	mc := &mockClient{publishErrs: []error{fmt.Errorf("net fail"), nil}}
	withMock(t, mc)
	cli, err := NewPahoClient(Config{Broker: "tcp://localhost:1883", ClientID: "id", MaxRetries: 1, BackoffMS: 1})
	require.NoError(t, err)
	require.NoError(t, cli.Publish("t", nil))
	assert.Len(t, mc.published, 2)

	mc.publishErrs = []error{fmt.Errorf("a"), fmt.Errorf("b")}
	assert.EqualError(t, cli.Publish("t", nil), "b")
}

func TestPublishDisconnected(t *testing.T) {
	mc := &mockClient{disconnected: true}
	withMock(t, mc)
	cli, err := NewPahoClient(Config{Broker: "tcp://localhost:1883", ClientID: "id"})
	require.NoError(t, err)
	assert.ErrorIs(t, cli.Publish("t", nil), coremqtt.ErrNotConnected)
}

// mockClient implements pahoClient for tests
type mockClient struct {
	opts       *paho.ClientOptions
	subscribed []struct {
		topic   string
		qos     byte
		handler paho.MessageHandler
	}
	published []struct {
		topic string
		qos   byte
	}
	publishErrs  []error
	disconnected bool
}

func (m *mockClient) IsConnected() bool { return !m.disconnected }
func (m *mockClient) Connect() paho.Token {
	if m.opts != nil && m.opts.OnConnect != nil {
		m.opts.OnConnect(m)
	}
	return &dummyToken{}
}
func (m *mockClient) Disconnect(uint) {}
func (m *mockClient) Publish(topic string, qos byte, _ bool, _ interface{}) paho.Token {
	m.published = append(m.published, struct {
		topic string
		qos   byte
	}{topic, qos})
	if len(m.publishErrs) > 0 {
		err := m.publishErrs[0]
		m.publishErrs = m.publishErrs[1:]
		return &dummyToken{err: err}
	}
	return &dummyToken{}
}
func (m *mockClient) Subscribe(topic string, qos byte, h paho.MessageHandler) paho.Token {
	m.subscribed = append(m.subscribed, struct {
		topic   string
		qos     byte
		handler paho.MessageHandler
	}{topic, qos, h})
	return &dummyToken{}
}
func (m *mockClient) SubscribeMultiple(map[string]byte, paho.MessageHandler) paho.Token {
	return &dummyToken{}
}
func (m *mockClient) Unsubscribe(...string) paho.Token        { return &dummyToken{} }
func (m *mockClient) AddRoute(string, paho.MessageHandler)    {}
func (m *mockClient) OptionsReader() paho.ClientOptionsReader { return paho.ClientOptionsReader{} }
func (m *mockClient) IsConnectionOpen() bool                  { return !m.disconnected }

type dummyToken struct{ err error }

func (d dummyToken) Wait() bool                     { return true }
func (d dummyToken) WaitTimeout(time.Duration) bool { return true }
func (d dummyToken) Done() <-chan struct{}          { ch := make(chan struct{}); close(ch); return ch }
func (d dummyToken) Error() error                   { return d.err }

type mockMessage struct {
	topic string
	p     []byte
}

func (m mockMessage) Duplicate() bool   { return false }
func (m mockMessage) Qos() byte         { return 0 }
func (m mockMessage) Retained() bool    { return false }
func (m mockMessage) Topic() string     { return m.topic }
func (m mockMessage) MessageID() uint16 { return 0 }
func (m mockMessage) Payload() []byte   { return m.p }
func (m mockMessage) Ack()              {}
