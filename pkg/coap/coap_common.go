package coap

import "fmt"

const (
	// Version CoAP协议版本，固定为1
	Version = 1
	// MaxTokenLen Token最大长度（RFC 7252）
	MaxTokenLen = 8
	// MaxPDUSize 单个数据报的最大长度
	MaxPDUSize = 1152

	headerLen     = 4
	payloadMarker = 0xFF
)

// Type 消息类型
type Type uint8

const (
	Confirmable     Type = 0
	NonConfirmable  Type = 1
	Acknowledgement Type = 2
	Reset           Type = 3
)

func (t Type) String() string {
	switch t {
	case Confirmable:
		return "CON"
	case NonConfirmable:
		return "NON"
	case Acknowledgement:
		return "ACK"
	case Reset:
		return "RST"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// Code 方法码或响应码，高3位为class，低5位为detail
type Code uint8

const (
	Empty  Code = 0
	GET    Code = 1
	POST   Code = 2
	PUT    Code = 3
	DELETE Code = 4

	Created Code = 65 // 2.01
	Deleted Code = 66 // 2.02
	Valid   Code = 67 // 2.03
	Changed Code = 68 // 2.04
	Content Code = 69 // 2.05
)

// Class 返回响应码的class部分
func (c Code) Class() uint8 { return uint8(c) >> 5 }

// Detail 返回响应码的detail部分
func (c Code) Detail() uint8 { return uint8(c) & 0x1F }

// IsRequest 是否为请求方法
func (c Code) IsRequest() bool { return c.Class() == 0 && c != Empty }

func (c Code) String() string {
	switch c {
	case Empty:
		return "Empty"
	case GET:
		return "GET"
	case POST:
		return "POST"
	case PUT:
		return "PUT"
	case DELETE:
		return "DELETE"
	}
	return fmt.Sprintf("%d.%02d", c.Class(), c.Detail())
}

// OptionNumber 选项编号
type OptionNumber uint16

const (
	IfMatch       OptionNumber = 1
	URIHost       OptionNumber = 3
	ETag          OptionNumber = 4
	IfNoneMatch   OptionNumber = 5
	Observe       OptionNumber = 6
	URIPort       OptionNumber = 7
	LocationPath  OptionNumber = 8
	URIPath       OptionNumber = 11
	ContentFormat OptionNumber = 12
	MaxAge        OptionNumber = 14
	URIQuery      OptionNumber = 15
	Accept        OptionNumber = 17
)

var optionNames = map[OptionNumber]string{
	IfMatch:       "If-Match",
	URIHost:       "Uri-Host",
	ETag:          "ETag",
	IfNoneMatch:   "If-None-Match",
	Observe:       "Observe",
	URIPort:       "Uri-Port",
	LocationPath:  "Location-Path",
	URIPath:       "Uri-Path",
	ContentFormat: "Content-Format",
	MaxAge:        "Max-Age",
	URIQuery:      "Uri-Query",
	Accept:        "Accept",
}

func (n OptionNumber) String() string {
	if name, ok := optionNames[n]; ok {
		return name
	}
	return fmt.Sprintf("Option(%d)", uint16(n))
}

// ObserveRegister Observe选项取0表示注册观察，取1表示取消
const (
	ObserveRegister   uint32 = 0
	ObserveDeregister uint32 = 1
)
