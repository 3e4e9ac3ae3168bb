package capture

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/junbin-yang/coap-observe-go/pkg/coap"
	log "github.com/junbin-yang/coap-observe-go/pkg/utils/logger"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{
		Sort:        cbor.SortCanonical,
		IndefLength: cbor.IndefLengthForbidden,
		Time:        cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("capture: create CBOR encoder mode: %v", err))
	}
	decMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyQuiet,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("capture: create CBOR decoder mode: %v", err))
	}
}

// Direction 数据报方向
type Direction uint8

const (
	In  Direction = 0
	Out Direction = 1
)

func (d Direction) String() string {
	if d == Out {
		return "OUT"
	}
	return "IN"
}

// Summary 解码后的消息摘要，解码失败时只填Error
type Summary struct {
	Type      string  `cbor:"1,keyasint,omitempty"`
	Code      string  `cbor:"2,keyasint,omitempty"`
	MessageID uint16  `cbor:"3,keyasint,omitempty"`
	Token     string  `cbor:"4,keyasint,omitempty"`
	Path      string  `cbor:"5,keyasint,omitempty"`
	Observe   *uint32 `cbor:"6,keyasint,omitempty"`
	Error     string  `cbor:"7,keyasint,omitempty"`
}

// Record 一条抓包记录
type Record struct {
	Time      time.Time `cbor:"1,keyasint"`
	Session   string    `cbor:"2,keyasint"`
	Direction Direction `cbor:"3,keyasint"`
	Peer      string    `cbor:"4,keyasint"`
	Data      []byte    `cbor:"5,keyasint"`
	Summary   Summary   `cbor:"6,keyasint"`
}

// Summarize 解码数据报生成摘要
func Summarize(data []byte) Summary {
	m, err := coap.Decode(data)
	if err != nil {
		return Summary{Error: err.Error()}
	}
	s := Summary{
		Type:      m.Type.String(),
		Code:      m.Code.String(),
		MessageID: m.MessageID,
		Token:     hex.EncodeToString(m.Token),
		Path:      m.Path(),
	}
	if obs, ok := m.Observe(); ok {
		s.Observe = &obs
	}
	return s
}

// FileWriter 以CBOR序列追加写入抓包文件，可并发使用
type FileWriter struct {
	mu      sync.Mutex
	file    *os.File
	enc     *cbor.Encoder
	session string
	closed  bool
	failed  uint64 // 写入失败次数
	log     *log.Logger
}

// NewFileWriter 打开（或创建）抓包文件，每次打开生成新的会话ID
func NewFileWriter(path string) (*FileWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open capture file: %w", err)
	}
	return &FileWriter{
		file:    f,
		enc:     encMode.NewEncoder(f),
		session: uuid.New().String(),
		log:     log.Default(),
	}, nil
}

// Session 返回本次写入的会话ID
func (w *FileWriter) Session() string { return w.session }

func (w *FileWriter) Inbound(peer string, data []byte)  { w.write(In, peer, data) }
func (w *FileWriter) Outbound(peer string, data []byte) { w.write(Out, peer, data) }

func (w *FileWriter) write(dir Direction, peer string, data []byte) {
	rec := Record{
		Time:      time.Now(),
		Session:   w.session,
		Direction: dir,
		Peer:      peer,
		Data:      append([]byte(nil), data...),
		Summary:   Summarize(data),
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	// 写入失败不影响协议处理，只在第一次失败时告警
	if err := w.enc.Encode(rec); err != nil {
		w.failed++
		if w.failed == 1 {
			w.log.Warn("[CAPTURE] write record failed, further failures are counted",
				log.String("session", w.session), log.String("peer", peer), log.GetError(err))
		}
	}
}

// Failed 返回写入失败的记录数
func (w *FileWriter) Failed() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failed
}

// Close 关闭文件，可重复调用
func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if w.failed > 0 {
		w.log.Warn("[CAPTURE] records lost", log.String("session", w.session), log.Uint64("failed", w.failed))
	}
	return w.file.Close()
}

// Reader 顺序读取抓包记录
type Reader struct {
	dec *cbor.Decoder
}

func NewReader(r io.Reader) *Reader {
	return &Reader{dec: decMode.NewDecoder(r)}
}

// Next 返回下一条记录，读完时返回io.EOF
func (r *Reader) Next() (Record, error) {
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// ReadFile 读取整个抓包文件
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var recs []Record
	r := NewReader(f)
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return recs, nil
		}
		if err != nil {
			return recs, fmt.Errorf("read capture record %d: %w", len(recs), err)
		}
		recs = append(recs, rec)
	}
}
