package sdo

import (
	"errors"
	"testing"
	"time"

	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/od"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func init() {
	log.SetLevel(log.DebugLevel)
}

// mailbox answering requests with a user handler
type fakeMailbox struct {
	size    int
	handler func(req SDOMessage) []SDOMessage
	emcy    []Emergency
	queue   [][]byte
	sent    int
}

func (m *fakeMailbox) Size() int { return m.size }

func (m *fakeMailbox) Send(b []byte) error {
	m.sent++
	msg, err := DecodeMailbox(b)
	if err != nil {
		return err
	}
	req, err := NewSDOMessage(msg.Payload)
	if err != nil {
		return err
	}
	for _, e := range m.emcy {
		raw, _ := EncodeMailbox(m.size, 1, ServiceEmergency, e.Bytes())
		m.queue = append(m.queue, raw)
	}
	m.emcy = nil
	if m.handler == nil {
		return nil
	}
	for _, resp := range m.handler(req) {
		raw, _ := EncodeMailbox(m.size, 1, ServiceSDOResponse, resp.Bytes())
		m.queue = append(m.queue, raw)
	}
	return nil
}

func (m *fakeMailbox) Receive(deadline time.Time) ([]byte, error) {
	if len(m.queue) == 0 {
		return nil, ErrMailboxTimeout
	}
	raw := m.queue[0]
	m.queue = m.queue[1:]
	return raw, nil
}

func TestMailboxCodec(t *testing.T) {
	req, err := NewDownloadRequest(0x6040, 0, []byte{0x06, 0x00})
	assert.Nil(t, err)
	assert.EqualValues(t, 0x2B, req.Command())
	raw, err := EncodeMailbox(128, 3, ServiceSDORequest, req.Bytes())
	assert.Nil(t, err)
	assert.Len(t, raw, 128)
	assert.EqualValues(t, 10, raw[0])
	assert.EqualValues(t, 0x33, raw[5])
	assert.EqualValues(t, 0x20, raw[7])

	msg, err := DecodeMailbox(raw)
	assert.Nil(t, err)
	assert.EqualValues(t, ServiceSDORequest, msg.Service)
	assert.EqualValues(t, 3, msg.Counter)
	decoded, err := NewSDOMessage(msg.Payload)
	assert.Nil(t, err)
	assert.True(t, decoded.IsDownloadRequest())
	data, err := decoded.ExpeditedData()
	assert.Nil(t, err)
	assert.Equal(t, []byte{0x06, 0x00}, data)

	_, err = EncodeMailbox(10, 1, ServiceSDORequest, req.Bytes())
	assert.NotNil(t, err)
	_, err = NewDownloadRequest(0x6040, 0, make([]byte, 5))
	assert.ErrorIs(t, err, ErrSegmentedTransfer)
}

func TestUploadDownload(t *testing.T) {
	values := map[uint16][]byte{0x6041: {0x40, 0x02}}
	mb := &fakeMailbox{size: 128, handler: func(req SDOMessage) []SDOMessage {
		if req.IsUploadRequest() {
			v, ok := values[req.Index()]
			if !ok {
				return []SDOMessage{NewAbort(req.Index(), req.Subindex(), AbortNotExist)}
			}
			resp, _ := NewUploadResponse(req.Index(), req.Subindex(), v)
			return []SDOMessage{resp}
		}
		data, _ := req.ExpeditedData()
		values[req.Index()] = data
		return []SDOMessage{NewDownloadResponse(req.Index(), req.Subindex())}
	}}
	client := NewSDOClient(mb, 0, nil)

	t.Run("upload", func(t *testing.T) {
		data, err := client.Upload(0x6041, 0)
		assert.Nil(t, err)
		assert.Equal(t, []byte{0x40, 0x02}, data)
	})
	t.Run("download then upload", func(t *testing.T) {
		assert.Nil(t, client.Download(0x60FF, 0, []byte{1, 2, 3, 4}))
		data, err := client.Upload(0x60FF, 0)
		assert.Nil(t, err)
		assert.Equal(t, []byte{1, 2, 3, 4}, data)
	})
	t.Run("abort", func(t *testing.T) {
		_, err := client.Upload(0x2000, 0)
		var abort *AbortError
		assert.True(t, errors.As(err, &abort))
		assert.Equal(t, AbortNotExist, abort.Code)
		assert.ErrorIs(t, err, ethercat.ErrInvalidAddress)
		assert.ErrorIs(t, err, AbortNotExist)
	})
}

func TestTimeoutIsUnreachable(t *testing.T) {
	client := NewSDOClient(&fakeMailbox{size: 128}, 2, nil)
	client.SetTimeout(5 * time.Millisecond)
	_, err := client.Upload(0x6041, 0)
	assert.ErrorIs(t, err, ethercat.ErrSlaveUnreachable)
	assert.ErrorIs(t, err, ErrMailboxTimeout)
}

func TestEmergencyDuringTransfer(t *testing.T) {
	mb := &fakeMailbox{size: 128, handler: func(req SDOMessage) []SDOMessage {
		return []SDOMessage{NewDownloadResponse(req.Index(), req.Subindex())}
	}}
	mb.emcy = []Emergency{{ErrorCode: 0x7500, ErrorRegister: 0x01}}
	client := NewSDOClient(mb, 0, nil)
	var received []Emergency
	client.OnEmergency(func(e Emergency) { received = append(received, e) })
	assert.Nil(t, client.Download(0x6040, 0, []byte{0x06, 0x00}))
	assert.Len(t, received, 1)
	assert.EqualValues(t, 0x7500, received[0].ErrorCode)
}

func TestAbortDescriptions(t *testing.T) {
	assert.Equal(t, AbortReadOnly, ConvertOdToSdoAbort(od.ErrReadonly))
	assert.Equal(t, AbortDeviceIncompat, ConvertOdToSdoAbort(od.ODR(99)))
	assert.Equal(t, "Sub index does not exist", AbortSubUnknown.Description())
	assert.Equal(t, AbortCodeDescriptionMap[AbortGeneral], AbortCode(0x12345678).Description())
	err := &AbortError{Code: AbortTypeMismatch, Index: 0x6040}
	assert.False(t, errors.Is(err, ethercat.ErrInvalidAddress))
}
