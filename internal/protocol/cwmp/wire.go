// Package cwmp 实现 ACS 侧的远程管理会话报文编解码。
// 报文为 SOAP 信封（命名空间 urn:dslforum-org:cwmp-1-0），
// 方法名取 Body 的唯一子元素名。
package cwmp

import "errors"

// 方法名常量（Body 子元素的 local name）
const (
	MethodInform                     = "Inform"
	MethodGetRPCMethodsResponse      = "GetRPCMethodsResponse"
	MethodGetParameterValuesResponse = "GetParameterValuesResponse"
	MethodSetParameterValuesResponse = "SetParameterValuesResponse"
	MethodRebootResponse             = "RebootResponse"
)

// 命名空间常量
const (
	nsSoapEnv = "http://schemas.xmlsoap.org/soap/envelope/"
	nsSoapEnc = "http://schemas.xmlsoap.org/soap/encoding/"
	nsXSD     = "http://www.w3.org/2001/XMLSchema"
	nsXSI     = "http://www.w3.org/2001/XMLSchema-instance"
	nsCWMP    = "urn:dslforum-org:cwmp-1-0"
)

// InformResponse 约定：单次交换最多一个信封，设备不得批量续发
const informMaxEnvelopes = 1

var (
	// ErrMalformed 信封不可解析或 Body 为空
	ErrMalformed = errors.New("cwmp: malformed envelope")
	// ErrNoSerialNumber 信封内取不到设备序列号
	ErrNoSerialNumber = errors.New("cwmp: no serial number in envelope")
)
