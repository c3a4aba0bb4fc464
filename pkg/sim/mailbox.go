package sim

import (
	"errors"

	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/od"
	"github.com/samsamfire/goethercat/pkg/sdo"
)

func isMappingObject(index uint16) bool {
	return (index >= od.EntryRxPDOMappingStart && index < od.EntryRxPDOMappingStart+0x200) ||
		(index >= od.EntryTxPDOMappingStart && index < od.EntryTxPDOMappingStart+0x200) ||
		index == od.EntryRxPDOAssign || index == od.EntryTxPDOAssign
}

func abortFromOd(err error) sdo.AbortCode {
	var odr od.ODR
	if errors.As(err, &odr) {
		return sdo.ConvertOdToSdoAbort(odr)
	}
	return sdo.AbortGeneral
}

// handleMailbox serves one CoE request written to SM0
func (s *Slave) handleMailbox(raw []byte) {
	msg, err := sdo.DecodeMailbox(raw)
	if err != nil {
		s.logger.Warnf("[SIM] invalid mailbox : %v", err)
		return
	}
	if msg.Type != sdo.MailboxTypeCoE || msg.Service != sdo.ServiceSDORequest {
		s.logger.Warnf("[SIM] unsupported mailbox type x%x service x%x", msg.Type, msg.Service)
		return
	}
	request, err := sdo.NewSDOMessage(msg.Payload)
	if err != nil {
		s.logger.Warnf("[SIM] %v", err)
		return
	}
	var response sdo.SDOMessage
	switch {
	case request.IsUploadRequest():
		response = s.serveUpload(request)
	case request.IsDownloadRequest():
		response = s.serveDownload(request)
	default:
		response = sdo.NewAbort(request.Index(), request.Subindex(), sdo.AbortCmd)
	}
	if response.IsAbort() {
		s.logger.Debugf("[SIM] abort x%x|x%x : %v", request.Index(), request.Subindex(), response.AbortCode())
	}
	out, err := sdo.EncodeMailbox(mailboxSize, msg.Counter, sdo.ServiceSDOResponse, response.Bytes())
	if err != nil {
		s.logger.Warnf("[SIM] %v", err)
		return
	}
	s.mailboxQueue = append(s.mailboxQueue, out)
}

func (s *Slave) serveUpload(request sdo.SDOMessage) sdo.SDOMessage {
	index, subindex := request.Index(), request.Subindex()
	v, err := s.od.Lookup(index, subindex)
	if err != nil {
		return sdo.NewAbort(index, subindex, abortFromOd(err))
	}
	if !v.Readable() {
		return sdo.NewAbort(index, subindex, sdo.AbortWriteOnly)
	}
	response, err := sdo.NewUploadResponse(index, subindex, v.Bytes())
	if err != nil {
		return sdo.NewAbort(index, subindex, sdo.AbortGeneral)
	}
	return response
}

func (s *Slave) serveDownload(request sdo.SDOMessage) sdo.SDOMessage {
	index, subindex := request.Index(), request.Subindex()
	v, err := s.od.Lookup(index, subindex)
	if err != nil {
		return sdo.NewAbort(index, subindex, abortFromOd(err))
	}
	if !v.Writable() {
		return sdo.NewAbort(index, subindex, sdo.AbortReadOnly)
	}
	data, err := request.ExpeditedData()
	if err != nil {
		return sdo.NewAbort(index, subindex, sdo.AbortCmd)
	}
	if len(data) != v.DataLength() {
		return sdo.NewAbort(index, subindex, sdo.AbortTypeMismatch)
	}
	if isMappingObject(index) && s.state != ethercat.StatePreOperational {
		return sdo.NewAbort(index, subindex, sdo.AbortDataDeviceState)
	}
	if index == od.EntryModesOfOperation && !s.drive.supportsMode(int8(data[0])) {
		return sdo.NewAbort(index, subindex, sdo.AbortInvalidValue)
	}
	if err := v.SetBytes(data); err != nil {
		return sdo.NewAbort(index, subindex, abortFromOd(err))
	}
	s.drive.tick()
	return sdo.NewDownloadResponse(index, subindex)
}
