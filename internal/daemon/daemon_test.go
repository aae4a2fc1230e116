package daemon

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/blockhost/root-agent/internal/actions"
	"github.com/blockhost/root-agent/internal/config"
	"github.com/blockhost/root-agent/internal/runner"
	"github.com/blockhost/root-agent/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frame(t *testing.T, v interface{}) []byte {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	return append(lenBuf[:], body...)
}

func TestReadRequestRoundTrip(t *testing.T) {
	req := &types.Request{Action: "qm-start", Params: map[string]interface{}{"vmid": float64(150)}}
	buf := bytes.NewReader(frame(t, req))

	got, err := readRequest(buf)
	require.NoError(t, err)
	assert.Equal(t, "qm-start", got.Action)
}

func TestWriteResponseProducesValidFrame(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeResponse(&buf, types.OK("done")))

	got, err := readRequestAsResponse(&buf)
	require.NoError(t, err)
	assert.True(t, got.OK)
	assert.Equal(t, "done", got.Output)
}

func readRequestAsResponse(r *bytes.Buffer) (*types.Response, error) {
	var lenBuf [4]byte
	if _, err := r.Read(lenBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	body := make([]byte, length)
	if _, err := r.Read(body); err != nil {
		return nil, err
	}
	var resp types.Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func TestReadRequestRejectsOversizedPayload(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x7f, 0xff, 0xff, 0xff}) // length field far exceeding maxPayloadBytes
	_, err := readRequest(&buf)
	assert.Error(t, err)
}

func TestDispatchUnknownAction(t *testing.T) {
	registry, errs := actions.Default()
	require.Empty(t, errs)

	deps := &actions.Deps{Runner: runner.New(), Config: config.Default("blockhost")}
	d := New("/tmp/unused.sock", "blockhost", registry, deps, nil)

	resp := d.dispatch(context.Background(), &types.Request{Action: "unknown-xyz", Params: map[string]interface{}{}})
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "Unknown action: unknown-xyz")
}

func TestDispatchValidationFailureNoPanic(t *testing.T) {
	registry, errs := actions.Default()
	require.Empty(t, errs)

	deps := &actions.Deps{Runner: runner.New(), Config: config.Default("blockhost")}
	d := New("/tmp/unused.sock", "blockhost", registry, deps, nil)

	resp := d.dispatch(context.Background(), &types.Request{
		Action: "qm-set",
		Params: map[string]interface{}{"vmid": float64(150), "options": map[string]interface{}{"foo": "bar"}},
	})
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "foo")
}
