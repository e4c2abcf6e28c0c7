package cwmp

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
)

// ParameterValue Inform 携带的参数键值对
type ParameterValue struct {
	Name  string `xml:"Name"`
	Value string `xml:"Value"`
}

// Inform 设备上线宣告报文
type Inform struct {
	DeviceID struct {
		Manufacturer string `xml:"Manufacturer"`
		OUI          string `xml:"OUI"`
		ProductClass string `xml:"ProductClass"`
		SerialNumber string `xml:"SerialNumber"`
	} `xml:"DeviceId"`
	Events       []string         `xml:"Event>EventStruct>EventCode"`
	MaxEnvelopes int              `xml:"MaxEnvelopes"`
	CurrentTime  string           `xml:"CurrentTime"`
	RetryCount   int              `xml:"RetryCount"`
	Params       []ParameterValue `xml:"ParameterList>ParameterValueStruct"`
}

// Param 按名称取参数值（空串表示未携带）
func (i *Inform) Param(name string) string {
	for _, p := range i.Params {
		if p.Name == name {
			return p.Value
		}
	}
	return ""
}

// Request 解析后的会话请求
type Request struct {
	// 会话 ID（cwmp:ID 头，可为空）
	SessionID string
	// 方法名 = Body 唯一子元素的 local name
	Method string
	// 设备序列号；优先取 Inform DeviceId，否则扫描其余报文
	Serial string
	// 仅 Method==Inform 时非空
	Inform *Inform
}

// rawEnvelope 通用信封骨架：Body 子元素保留原文延后解码
type rawEnvelope struct {
	XMLName xml.Name
	Header  struct {
		ID string `xml:"ID"`
	} `xml:"Header"`
	Body struct {
		Inner []rawElement `xml:",any"`
	} `xml:"Body"`
}

type rawElement struct {
	XMLName xml.Name
	Raw     []byte `xml:",innerxml"`
}

// Parse 解析入站会话信封。
// 取不到序列号返回 ErrNoSerialNumber（调用方应回 4xx 且不落库）。
func Parse(body []byte) (*Request, error) {
	var env rawEnvelope
	if err := xml.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !strings.EqualFold(env.XMLName.Local, "Envelope") || len(env.Body.Inner) == 0 {
		return nil, ErrMalformed
	}

	first := env.Body.Inner[0]
	req := &Request{
		SessionID: strings.TrimSpace(env.Header.ID),
		Method:    first.XMLName.Local,
	}

	if req.Method == MethodInform {
		var inf Inform
		if err := unmarshalFragment(first, &inf); err != nil {
			return nil, fmt.Errorf("%w: decode inform: %v", ErrMalformed, err)
		}
		req.Inform = &inf
		req.Serial = strings.TrimSpace(inf.DeviceID.SerialNumber)
	}

	// 兜底：在全部 Body 报文中扫 SerialNumber 元素
	if req.Serial == "" {
		for _, el := range env.Body.Inner {
			if s := scanSerial(el.Raw); s != "" {
				req.Serial = s
				break
			}
		}
	}
	if req.Serial == "" {
		return nil, ErrNoSerialNumber
	}
	return req, nil
}

// unmarshalFragment 给 innerxml 片段补回外层元素后解码
func unmarshalFragment(el rawElement, out any) error {
	var buf bytes.Buffer
	buf.WriteString("<" + el.XMLName.Local + ">")
	buf.Write(el.Raw)
	buf.WriteString("</" + el.XMLName.Local + ">")
	return xml.Unmarshal(buf.Bytes(), out)
}

// scanSerial 在 XML 片段中查找首个 SerialNumber 元素的文本
func scanSerial(fragment []byte) string {
	dec := xml.NewDecoder(bytes.NewReader(fragment))
	depth := 0
	inSerial := -1
	for {
		tok, err := dec.Token()
		if err != nil {
			return ""
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if t.Name.Local == "SerialNumber" {
				inSerial = depth
			}
		case xml.EndElement:
			if inSerial == depth {
				inSerial = -1
			}
			depth--
		case xml.CharData:
			if inSerial >= 0 {
				if s := strings.TrimSpace(string(t)); s != "" {
					return s
				}
			}
		}
	}
}
