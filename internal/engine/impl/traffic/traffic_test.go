package traffic

import (
	"Go2NetNodes/internal/model"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReport() *model.TrafficReport {
	return &model.TrafficReport{
		Timestamp:    time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		TotalPackets: 15,
		TotalBytes:   300,
		Flows: []model.FlowReport{
			{FromNode: 1, ToNode: 2, Protocol: 6, FromPort: 40000, ToPort: 443, Packets: 15, Bytes: 300},
		},
		Blocked: []model.FlowReport{
			{FromNode: 1, ToNode: 3, Protocol: 17, FromPort: 5353, ToPort: 53, Packets: 1, Bytes: 64},
		},
		Nodes: []model.NodeReport{
			{ID: 1, MAC: "00:11:22:33:44:55", IPs: []string{"192.168.1.10"}, Domains: []string{}, LastSeen: time.Date(2024, 3, 1, 11, 59, 58, 0, time.UTC)},
			{ID: 2, IPs: []string{"203.0.113.5"}, Domains: []string{"example.com."}, LastSeen: time.Date(2024, 3, 1, 11, 59, 59, 0, time.UTC)},
		},
	}
}

func TestGobWriter(t *testing.T) {
	root := t.TempDir()
	w := NewGobWriter(root)
	require.NoError(t, w.Write(sampleReport()))
	require.NoError(t, w.Close())

	dir := filepath.Join(root, "2024-03-01_12-00-00")
	flows, err := ReadFlows(filepath.Join(dir, "flows.dat"))
	require.NoError(t, err)
	assert.Equal(t, sampleReport().Flows, flows)

	blocked, err := ReadFlows(filepath.Join(dir, "blocked.dat"))
	require.NoError(t, err)
	assert.Equal(t, uint64(64), blocked[0].Bytes)

	raw, err := os.ReadFile(filepath.Join(dir, "summary.json"))
	require.NoError(t, err)
	var summary SummaryData
	require.NoError(t, json.Unmarshal(raw, &summary))
	assert.Equal(t, SummaryData{
		TotalFlows:   1,
		TotalBlocked: 1,
		TotalNodes:   2,
		TotalBytes:   300,
		TotalPackets: 15,
		Timestamp:    "2024-03-01T12:00:00Z",
	}, summary)
}

func TestGobWriterSkipsEmptyParts(t *testing.T) {
	root := t.TempDir()
	r := &model.TrafficReport{Timestamp: time.Unix(0, 0), Nodes: sampleReport().Nodes}
	require.NoError(t, NewGobWriter(root).Write(r))

	dir := filepath.Join(root, "1970-01-01_00-00-00")
	assert.FileExists(t, filepath.Join(dir, "nodes.dat"))
	assert.NoFileExists(t, filepath.Join(dir, "flows.dat"))
	assert.NoFileExists(t, filepath.Join(dir, "blocked.dat"))
}

func TestEncodeDecodeReport(t *testing.T) {
	for _, encoding := range []string{EncodingJSON, EncodingProto} {
		t.Run(encoding, func(t *testing.T) {
			data, err := EncodeReport(sampleReport(), encoding)
			require.NoError(t, err)
			got, err := DecodeReport(data, encoding)
			require.NoError(t, err)
			assert.Equal(t, sampleReport(), got)
		})
	}

	_, err := EncodeReport(sampleReport(), "xml")
	assert.Error(t, err)
}

func TestReportStructFieldNames(t *testing.T) {
	s, err := ReportStruct(sampleReport())
	require.NoError(t, err)
	assert.Equal(t, 300.0, s.Fields["total_bytes"].GetNumberValue())
	flows := s.Fields["flows"].GetListValue().GetValues()
	require.Len(t, flows, 1)
	assert.Equal(t, 443.0, flows[0].GetStructValue().Fields["to_port"].GetNumberValue())
}

func TestNewReportMsg(t *testing.T) {
	msg, err := NewReportMsg("gonodes.traffic", sampleReport(), EncodingProto)
	require.NoError(t, err)
	assert.Equal(t, "gonodes.traffic", msg.Subject)
	assert.Equal(t, "application/protobuf", msg.Header.Get("Content-Type"))
	_, err = uuid.Parse(msg.Header.Get(nats.MsgIdHdr))
	assert.NoError(t, err)

	other, err := NewReportMsg("gonodes.traffic", sampleReport(), EncodingProto)
	require.NoError(t, err)
	assert.NotEqual(t, msg.Header.Get(nats.MsgIdHdr), other.Header.Get(nats.MsgIdHdr))
}
