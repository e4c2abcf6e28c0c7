package cwmp

import (
	"encoding/xml"
	"fmt"
)

// 出站信封固定使用与主流 CPE 互通验证过的前缀与命名空间声明，
// 结构上保持与标准信封逐字节兼容。

type outEnvelope struct {
	XMLName      xml.Name `xml:"soap-env:Envelope"`
	XmlnsSoapEnv string   `xml:"xmlns:soap-env,attr"`
	XmlnsSoapEnc string   `xml:"xmlns:soap-enc,attr"`
	XmlnsXSD     string   `xml:"xmlns:xsd,attr"`
	XmlnsXSI     string   `xml:"xmlns:xsi,attr"`
	XmlnsCWMP    string   `xml:"xmlns:cwmp,attr"`
	Header       outHeader
	Body         outBody
}

type outHeader struct {
	XMLName xml.Name  `xml:"soap-env:Header"`
	ID      sessionID `xml:"cwmp:ID"`
}

type sessionID struct {
	MustUnderstand string `xml:"soap-env:mustUnderstand,attr"`
	Value          string `xml:",chardata"`
}

type outBody struct {
	XMLName        xml.Name        `xml:"soap-env:Body"`
	InformResponse *informResponse `xml:"cwmp:InformResponse,omitempty"`
}

type informResponse struct {
	MaxEnvelopes int `xml:"MaxEnvelopes"`
}

func newEnvelope(session string) outEnvelope {
	return outEnvelope{
		XmlnsSoapEnv: nsSoapEnv,
		XmlnsSoapEnc: nsSoapEnc,
		XmlnsXSD:     nsXSD,
		XmlnsXSI:     nsXSI,
		XmlnsCWMP:    nsCWMP,
		Header: outHeader{
			ID: sessionID{MustUnderstand: "1", Value: session},
		},
	}
}

func encode(env outEnvelope) ([]byte, error) {
	out, err := xml.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("cwmp: encode envelope: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

// BuildInformResponse 构造 Inform 应答（MaxEnvelopes 固定为 1）
func BuildInformResponse(session string) ([]byte, error) {
	env := newEnvelope(session)
	env.Body.InformResponse = &informResponse{MaxEnvelopes: informMaxEnvelopes}
	return encode(env)
}

// BuildEmptyResponse 构造空 Body 应答。
// 其余已确认方法、未识别方法以及内部处理失败统一用它兜底，
// 保证协议对端永远收到结构合法的信封。
func BuildEmptyResponse(session string) ([]byte, error) {
	return encode(newEnvelope(session))
}
