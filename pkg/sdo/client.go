package sdo

import (
	"errors"
	"fmt"
	"sync"
	"time"

	ethercat "github.com/samsamfire/goethercat"
	log "github.com/sirupsen/logrus"
)

var ErrMailboxTimeout = errors.New("no mailbox response before deadline")

// Mailbox is the slave side of a CoE exchange: SM0 for requests, SM1 for responses
type Mailbox interface {
	// Send writes a complete mailbox buffer to the receive mailbox of the slave
	Send(b []byte) error
	// Receive waits for the send mailbox of the slave to be full and reads it.
	// Returns [ErrMailboxTimeout] when deadline is reached.
	Receive(deadline time.Time) ([]byte, error)
	// Size of the receive mailbox of the slave in bytes
	Size() int
}

// SDOClient runs expedited CoE SDO transfers against one slave
type SDOClient struct {
	mu          sync.Mutex
	mailbox     Mailbox
	logger      *log.Entry
	position    int
	counter     uint8
	timeout     time.Duration
	onEmergency func(Emergency)
}

func NewSDOClient(mailbox Mailbox, position int, logger *log.Entry) *SDOClient {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &SDOClient{
		mailbox:  mailbox,
		logger:   logger.WithField("slave", position),
		position: position,
		timeout:  DefaultClientTimeout,
	}
}

// SetTimeout changes the time allowed for the slave to answer one request
func (c *SDOClient) SetTimeout(timeout time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if timeout > 0 {
		c.timeout = timeout
	}
}

func (c *SDOClient) Timeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeout
}

// OnEmergency registers a callback for emergencies received while waiting for a response
func (c *SDOClient) OnEmergency(callback func(Emergency)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEmergency = callback
}

// Upload reads (index, subindex) and returns the raw little endian value
func (c *SDOClient) Upload(index uint16, subindex uint8) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger.Debugf("[SDO][TX] upload x%x|x%x", index, subindex)
	response, err := c.transfer(NewUploadRequest(index, subindex))
	if err != nil {
		return nil, err
	}
	if response.Command()&cmdMask != cmdUploadResponse {
		return nil, fmt.Errorf("%w : command x%x to upload of x%x|x%x", ErrUnexpectedResponse, response.Command(), index, subindex)
	}
	data, err := response.ExpeditedData()
	if err != nil {
		return nil, err
	}
	c.logger.Debugf("[SDO][RX] upload x%x|x%x : %x", index, subindex, data)
	return data, nil
}

// Download writes 1 to 4 bytes to (index, subindex)
func (c *SDOClient) Download(index uint16, subindex uint8, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	request, err := NewDownloadRequest(index, subindex, data)
	if err != nil {
		return err
	}
	c.logger.Debugf("[SDO][TX] download x%x|x%x : %x", index, subindex, data)
	response, err := c.transfer(request)
	if err != nil {
		return err
	}
	if response.Command() != cmdDownloadResponse {
		return fmt.Errorf("%w : command x%x to download of x%x|x%x", ErrUnexpectedResponse, response.Command(), index, subindex)
	}
	c.logger.Debugf("[SDO][RX] download x%x|x%x acknowledged", index, subindex)
	return nil
}

func (c *SDOClient) nextCounter() uint8 {
	c.counter++
	if c.counter > 7 {
		c.counter = 1
	}
	return c.counter
}

// transfer sends one request and waits for the matching response.
// Emergencies are consumed on the way.
func (c *SDOClient) transfer(request SDOMessage) (SDOMessage, error) {
	index, subindex := request.Index(), request.Subindex()
	raw, err := EncodeMailbox(c.mailbox.Size(), c.nextCounter(), ServiceSDORequest, request.Bytes())
	if err != nil {
		return SDOMessage{}, err
	}
	if err := c.mailbox.Send(raw); err != nil {
		return SDOMessage{}, fmt.Errorf("%w : slave %d : %w", ethercat.ErrSlaveUnreachable, c.position, err)
	}
	deadline := time.Now().Add(c.timeout)
	for {
		raw, err := c.mailbox.Receive(deadline)
		if err != nil {
			c.logger.Warnf("[SDO] no response to x%x|x%x : %v", index, subindex, err)
			return SDOMessage{}, fmt.Errorf("%w : slave %d : %w", ethercat.ErrSlaveUnreachable, c.position, err)
		}
		msg, err := DecodeMailbox(raw)
		if err != nil {
			return SDOMessage{}, err
		}
		if msg.Type != MailboxTypeCoE {
			c.logger.Warnf("[SDO] ignoring mailbox of type x%x", msg.Type)
			continue
		}
		switch msg.Service {
		case ServiceEmergency:
			c.handleEmergency(msg.Payload)
			continue
		case ServiceSDOResponse, ServiceSDORequest:
		default:
			c.logger.Warnf("[SDO] ignoring coe service x%x", msg.Service)
			continue
		}
		response, err := NewSDOMessage(msg.Payload)
		if err != nil {
			return SDOMessage{}, err
		}
		if response.IsAbort() {
			abort := &AbortError{Code: response.AbortCode(), Index: index, Subindex: subindex, Position: c.position}
			c.logger.Infof("[SDO][RX] server abort x%x|x%x : %v", index, subindex, abort.Code)
			return SDOMessage{}, abort
		}
		if response.Index() != index || response.Subindex() != subindex {
			return SDOMessage{}, fmt.Errorf("%w : response for x%x|x%x, expected x%x|x%x",
				ErrUnexpectedResponse, response.Index(), response.Subindex(), index, subindex)
		}
		return response, nil
	}
}

func (c *SDOClient) handleEmergency(payload []byte) {
	emcy, err := DecodeEmergency(payload)
	if err != nil {
		c.logger.Warnf("[SDO] bad emergency : %v", err)
		return
	}
	c.logger.Warnf("[SDO][EMCY] %v", emcy)
	if c.onEmergency != nil {
		c.onEmergency(emcy)
	}
}
