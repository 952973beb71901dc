package admin

import (
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/antonkrylov/picopty/internal/registry"
)

// InfoStruct renders a device snapshot as a protobuf Struct.
func InfoStruct(info registry.Info) *structpb.Struct {
	fields := map[string]*structpb.Value{
		"device":       structpb.NewNumberValue(float64(info.Number)),
		"serial":       structpb.NewStringValue(info.Serial),
		"ptyPath":      structpb.NewStringValue(info.PTYPath),
		"link":         structpb.NewStringValue(info.Link),
		"connected":    structpb.NewBoolValue(info.Connected),
		"connId":       structpb.NewStringValue(info.ConnID),
		"remote":       structpb.NewStringValue(info.Remote),
		"createdAt":    structpb.NewStringValue(formatTime(info.CreatedAt)),
		"connectedAt":  structpb.NewStringValue(formatTime(info.ConnectedAt)),
		"queuedWrites": structpb.NewNumberValue(float64(info.QueuedWrites)),
	}
	return &structpb.Struct{Fields: fields}
}

// InfoFromStruct is the inverse of InfoStruct. Missing fields stay zero.
func InfoFromStruct(s *structpb.Struct) registry.Info {
	f := s.GetFields()
	return registry.Info{
		Number:       int(f["device"].GetNumberValue()),
		Serial:       f["serial"].GetStringValue(),
		PTYPath:      f["ptyPath"].GetStringValue(),
		Link:         f["link"].GetStringValue(),
		Connected:    f["connected"].GetBoolValue(),
		ConnID:       f["connId"].GetStringValue(),
		Remote:       f["remote"].GetStringValue(),
		CreatedAt:    parseTime(f["createdAt"].GetStringValue()),
		ConnectedAt:  parseTime(f["connectedAt"].GetStringValue()),
		QueuedWrites: int(f["queuedWrites"].GetNumberValue()),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
