package websocket

import (
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/wfunc/coin-bank/internal/controller"
	"github.com/wfunc/coin-bank/internal/display"
)

// FramePayload 帧消息内容，像素按物理顺序编码为RGB十六进制串
type FramePayload struct {
	Total     uint32 `json:"total"`
	Text      string `json:"text"`
	Animation string `json:"animation"`
	Error     bool   `json:"error"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Pixels    string `json:"pixels"`
}

// EncodePixels 把像素编码为十六进制串（每像素6个字符）
func EncodePixels(pixels []display.Color) string {
	raw := make([]byte, 0, len(pixels)*3)
	for _, c := range pixels {
		raw = append(raw, c.R, c.G, c.B)
	}
	return hex.EncodeToString(raw)
}

// DecodePixels EncodePixels的逆过程
func DecodePixels(s string) ([]display.Color, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(raw)%3 != 0 {
		return nil, ErrInvalidMessage
	}
	pixels := make([]display.Color, len(raw)/3)
	for i := range pixels {
		pixels[i] = display.Color{R: raw[i*3], G: raw[i*3+1], B: raw[i*3+2]}
	}
	return pixels, nil
}

// FrameMessage 由帧更新构造消息
func FrameMessage(update controller.Update) (*Message, error) {
	data, err := json.Marshal(FramePayload{
		Total:     update.Snapshot.Total,
		Text:      update.Snapshot.Text,
		Animation: update.Snapshot.Animation,
		Error:     update.Snapshot.ErrorActive,
		Width:     update.Width,
		Height:    update.Height,
		Pixels:    EncodePixels(update.Pixels),
	})
	if err != nil {
		return nil, err
	}
	return &Message{Type: MessageTypeFrame, Data: data, Timestamp: time.Now().Unix()}, nil
}

// StatusMessage 由状态快照构造消息
func StatusMessage(snap controller.Snapshot) (*Message, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, err
	}
	return &Message{Type: MessageTypeStatus, Data: data, Timestamp: time.Now().Unix()}, nil
}
