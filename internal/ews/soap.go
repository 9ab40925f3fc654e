package ews

import (
	"bytes"
	"encoding/xml"
	"fmt"
)

const (
	nsSoap     = "http://schemas.xmlsoap.org/soap/envelope/"
	nsTypes    = "http://schemas.microsoft.com/exchange/services/2006/types"
	nsMessages = "http://schemas.microsoft.com/exchange/services/2006/messages"

	serverVersion = "Exchange2013_SP1"
)

type requestEnvelope struct {
	XMLName xml.Name      `xml:"soap:Envelope"`
	NSSoap  string        `xml:"xmlns:soap,attr"`
	NSTypes string        `xml:"xmlns:t,attr"`
	NSMsgs  string        `xml:"xmlns:m,attr"`
	Header  requestHeader `xml:"soap:Header"`
	BodyXML innerXML      `xml:"soap:Body"`
}

type requestHeader struct {
	Version serverVersionHeader `xml:"t:RequestServerVersion"`
}

type serverVersionHeader struct {
	Version string `xml:"Version,attr"`
}

type innerXML struct {
	Content []byte `xml:",innerxml"`
}

// encodeEnvelope wraps a request element in a SOAP envelope
func encodeEnvelope(request any) ([]byte, error) {
	inner, err := xml.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	env := requestEnvelope{
		NSSoap:  nsSoap,
		NSTypes: nsTypes,
		NSMsgs:  nsMessages,
		Header:  requestHeader{Version: serverVersionHeader{Version: serverVersion}},
		BodyXML: innerXML{Content: inner},
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	if err := xml.NewEncoder(&buf).Encode(env); err != nil {
		return nil, fmt.Errorf("encoding envelope: %w", err)
	}
	return buf.Bytes(), nil
}

type responseEnvelope struct {
	Body struct {
		Fault   *soapFault `xml:"Fault"`
		Content []byte     `xml:",innerxml"`
	} `xml:"Body"`
}

type soapFault struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
	Detail struct {
		ResponseCode string `xml:"ResponseCode"`
		Message      string `xml:"Message"`
	} `xml:"detail"`
}

func (f *soapFault) err(status int) *Error {
	code := f.Detail.ResponseCode
	if code == "" {
		code = CodeSOAPFault
	}
	msg := f.Detail.Message
	if msg == "" {
		msg = f.String
	}
	return &Error{StatusCode: status, Code: code, Message: msg}
}

// decodeEnvelope unpacks a SOAP response body into response. A SOAP fault
// is returned as *Error.
func decodeEnvelope(status int, data []byte, response any) error {
	var env responseEnvelope
	if err := xml.Unmarshal(data, &env); err != nil {
		return &Error{StatusCode: status, Code: CodeInvalidResponse, Message: "malformed SOAP envelope", Err: err}
	}
	if env.Body.Fault != nil {
		return env.Body.Fault.err(status)
	}
	if response == nil {
		return nil
	}
	if err := xml.Unmarshal(env.Body.Content, response); err != nil {
		return &Error{StatusCode: status, Code: CodeInvalidResponse, Message: "malformed response body", Err: err}
	}
	return nil
}

// responseMessage holds the status every EWS response message carries
type responseMessage struct {
	ResponseClass string `xml:"ResponseClass,attr"`
	MessageText   string `xml:"MessageText"`
	ResponseCode  string `xml:"ResponseCode"`
}

func (m responseMessage) err() error {
	if m.ResponseClass == "Success" || m.ResponseCode == CodeNoError || m.ResponseCode == "" && m.ResponseClass != "Error" {
		return nil
	}
	return &Error{Code: m.ResponseCode, Message: m.MessageText}
}

type itemID struct {
	ID        string `xml:"Id,attr"`
	ChangeKey string `xml:"ChangeKey,attr,omitempty"`
}

type folderID struct {
	ID        string `xml:"Id,attr"`
	ChangeKey string `xml:"ChangeKey,attr,omitempty"`
}

type distinguishedFolderID struct {
	ID string `xml:"Id,attr"`
}
