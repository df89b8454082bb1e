// Package ingest implements the recorder ingest coordinator: it allocates a
// mount per capture-role proxy, demultiplexes the inbound stream into up to
// eight fixed logical channels, and interleaves them into one artefact,
// silence-filling any channel that has nothing to contribute at a given
// tick.
//
// The OGG/Opus container writer is adapted near-verbatim from the teacher's
// recording.go, since the container format itself doesn't change — only
// what feeds it (a single mixed stream there, up to eight demuxed logical
// channels here).
package ingest

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

const (
	// MaxChannels is the fixed number of logical channels a mount
	// interleaves, matching the original receiver-ingest's channel cap.
	MaxChannels = 8
	// tickDuration is how often the writer advances, matching Opus's 20ms
	// frame duration at 48kHz (960 samples/tick).
	tickDuration     = 20 * time.Millisecond
	samplesPerTick   = 960
	maxMountDuration = 2 * time.Hour
	mountDir         = "recordings"
)

// Coordinator allocates and owns recording mounts, one per capture-role
// proxy.
type Coordinator struct {
	mu      sync.Mutex
	dataDir string
	mounts  map[uint32]*Mount
}

func NewCoordinator(dataDir string) *Coordinator {
	return &Coordinator{dataDir: dataDir, mounts: make(map[uint32]*Mount)}
}

// GetRecordDest returns the mount path for proxyID, allocating a new Mount
// on first use.
func (c *Coordinator) GetRecordDest(proxyID uint32) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.mounts[proxyID]; !ok {
		m, err := newMount(proxyID, c.dataDir)
		if err != nil {
			return "", err
		}
		c.mounts[proxyID] = m
	}
	return fmt.Sprintf("/record/%d", proxyID), nil
}

// Mount looks up the mount for proxyID, if any is currently allocated.
func (c *Coordinator) Mount(proxyID uint32) (*Mount, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.mounts[proxyID]
	return m, ok
}

// Release stops and removes proxyID's mount.
func (c *Coordinator) Release(proxyID uint32) {
	c.mu.Lock()
	m, ok := c.mounts[proxyID]
	delete(c.mounts, proxyID)
	c.mu.Unlock()
	if ok {
		m.Stop()
	}
}

// activeMounts returns a snapshot of the currently active mounts.
func (c *Coordinator) activeMounts() []*Mount {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Mount, 0, len(c.mounts))
	for _, m := range c.mounts {
		out = append(out, m)
	}
	return out
}

// RunTicker advances every active mount once per tickDuration until ctx is
// canceled, the clock against which the interleaved artefact's granule
// positions advance.
func (c *Coordinator) RunTicker(ctx context.Context) {
	ticker := time.NewTicker(tickDuration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, m := range c.activeMounts() {
				m.Tick()
			}
		}
	}
}

// HandleUpload accepts a chunked POST of demultiplexed frames
// ([channel:1][len:2]<payload>...) for the proxy named by the ":id" route
// param and feeds them into its mount.
func (c *Coordinator) HandleUpload(ctx echo.Context) error {
	idVal, err := strconv.ParseUint(ctx.Param("id"), 10, 32)
	if err != nil {
		return ctx.NoContent(http.StatusNotFound)
	}
	m, ok := c.Mount(uint32(idVal))
	if !ok {
		return ctx.NoContent(http.StatusNotFound)
	}

	body := ctx.Request().Body
	hdr := make([]byte, 3)
	for {
		if _, err := io.ReadFull(body, hdr); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return ctx.NoContent(http.StatusOK)
			}
			return err
		}
		length := int(binary.LittleEndian.Uint16(hdr[1:3]))
		payload := make([]byte, length)
		if _, err := io.ReadFull(body, payload); err != nil {
			return err
		}
		m.FeedFrame(hdr[0], payload)
	}
}

// frame is one channel's pending packet for the current tick.
type frame struct {
	channel uint8
	data    []byte
}

// Mount demultiplexes inbound frames, tagged [channel:1][len:2]<payload>,
// into up to MaxChannels logical channels and interleaves them into one OGG
// artefact.
type Mount struct {
	mu       sync.Mutex
	proxyID  uint32
	file     *os.File
	ogg      *oggWriter
	pending  [MaxChannels][]byte
	stopped  bool
	maxTimer *time.Timer
	ticks    uint64
}

func newMount(proxyID uint32, dataDir string) (*Mount, error) {
	dir := filepath.Join(dataDir, mountDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recordings dir: %w", err)
	}

	filename := fmt.Sprintf("client%d_%s.ogg", proxyID, time.Now().Format("20060102_150405"))
	path := filepath.Join(dir, filename)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create mount file: %w", err)
	}
	ogg := newOGGWriter(f, proxyID)
	if err := ogg.writeHeaders(); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("write OGG headers: %w", err)
	}

	m := &Mount{proxyID: proxyID, file: f, ogg: ogg}
	m.maxTimer = time.AfterFunc(maxMountDuration, func() {
		log.Printf("[ingest] client %d: max duration reached, auto-stopping", proxyID)
		m.Stop()
	})
	return m, nil
}

// FeedFrame demultiplexes one inbound frame for channel ch (0-based,
// clamped to MaxChannels-1) into the pending buffer for the current tick.
func (m *Mount) FeedFrame(ch uint8, payload []byte) {
	if ch >= MaxChannels {
		ch = MaxChannels - 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.pending[ch] = append([]byte(nil), payload...)
}

// Tick interleaves one tick's worth of channel data into the artefact,
// silence-filling any channel that received nothing since the last tick.
func (m *Mount) Tick() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}

	m.ticks++
	var interleaved []byte
	for ch := 0; ch < MaxChannels; ch++ {
		data := m.pending[ch]
		if data == nil {
			data = silenceFrame
		}
		interleaved = appendChannelFrame(interleaved, uint8(ch), data)
		m.pending[ch] = nil
	}

	if err := m.ogg.writePacket(interleaved, m.ticks*samplesPerTick); err != nil {
		log.Printf("[ingest] client %d: write error: %v", m.proxyID, err)
	}
}

// Stop ends the mount and closes its file. Safe to call multiple times.
func (m *Mount) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.stopped = true
	if m.maxTimer != nil {
		m.maxTimer.Stop()
	}
	m.ogg.close()
	m.file.Close()
	log.Printf("[ingest] client %d: stopped after %d ticks", m.proxyID, m.ticks)
}

// silenceFrame is a single Opus "DTX"-equivalent silence frame substituted
// for any channel with nothing to contribute at a tick.
var silenceFrame = []byte{0xF8, 0xFF, 0xFE} // Opus TOC byte for a zero-length silent frame, padded

func appendChannelFrame(buf []byte, ch uint8, data []byte) []byte {
	hdr := make([]byte, 3)
	hdr[0] = ch
	binary.LittleEndian.PutUint16(hdr[1:3], uint16(len(data)))
	buf = append(buf, hdr...)
	buf = append(buf, data...)
	return buf
}

// ---------------------------------------------------------------------------
// OGG/Opus writer, adapted from the teacher's recording.go: the container
// format (RFC 7845) is unchanged, only the channel-mapping header field.
// ---------------------------------------------------------------------------

type oggWriter struct {
	w         *os.File
	serial    uint32
	pageSeqNo uint32
}

func newOGGWriter(f *os.File, serialSeed uint32) *oggWriter {
	return &oggWriter{w: f, serial: 0x41555245 ^ serialSeed} // "AURE" xor proxy id
}

func (o *oggWriter) writeHeaders() error {
	head := make([]byte, 19)
	copy(head[0:8], "OpusHead")
	head[8] = 1
	head[9] = MaxChannels
	binary.LittleEndian.PutUint16(head[10:12], 0)
	binary.LittleEndian.PutUint32(head[12:16], 48000)
	binary.LittleEndian.PutUint16(head[16:18], 0)
	head[18] = 1 // channel mapping family 1: explicit multi-channel mapping
	if err := o.writePage(head, 0, 2); err != nil {
		return err
	}

	vendor := "aurena"
	tags := make([]byte, 8+4+len(vendor)+4)
	copy(tags[0:8], "OpusTags")
	binary.LittleEndian.PutUint32(tags[8:12], uint32(len(vendor)))
	copy(tags[12:12+len(vendor)], vendor)
	binary.LittleEndian.PutUint32(tags[12+len(vendor):], 0)
	return o.writePage(tags, 0, 0)
}

func (o *oggWriter) writePacket(payload []byte, granule uint64) error {
	return o.writePage(payload, granule, 0)
}

func (o *oggWriter) close() {
	_ = o.writePage(nil, 0, 4)
}

func (o *oggWriter) writePage(payload []byte, granulePos uint64, headerType byte) error {
	segments := len(payload) / 255
	if len(payload)%255 != 0 || len(payload) == 0 {
		segments++
	}
	if segments == 0 {
		segments = 1
	}

	segTable := make([]byte, segments)
	remaining := len(payload)
	for i := 0; i < segments; i++ {
		if remaining >= 255 {
			segTable[i] = 255
			remaining -= 255
		} else {
			segTable[i] = byte(remaining)
			remaining = 0
		}
	}

	header := make([]byte, 27+len(segTable))
	copy(header[0:4], "OggS")
	header[4] = 0
	header[5] = headerType
	binary.LittleEndian.PutUint64(header[6:14], granulePos)
	binary.LittleEndian.PutUint32(header[14:18], o.serial)
	binary.LittleEndian.PutUint32(header[18:22], o.pageSeqNo)
	header[26] = byte(len(segTable))
	copy(header[27:], segTable)

	crc := oggCRC(header, payload)
	binary.LittleEndian.PutUint32(header[22:26], crc)

	o.pageSeqNo++

	if _, err := o.w.Write(header); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := o.w.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

// oggCRC computes the OGG CRC-32, which uses the unreflected form of the
// 0x04C11DB7 polynomial (not the standard reflected CRC-32).
func oggCRC(header, payload []byte) uint32 {
	var crc uint32
	for _, b := range header {
		crc = (crc << 8) ^ oggCRCTable[byte(crc>>24)^b]
	}
	for _, b := range payload {
		crc = (crc << 8) ^ oggCRCTable[byte(crc>>24)^b]
	}
	return crc
}

var oggCRCTable = func() [256]uint32 {
	const poly = 0x04C11DB7
	var table [256]uint32
	for i := range table {
		r := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if r&0x80000000 != 0 {
				r = (r << 1) ^ poly
			} else {
				r <<= 1
			}
		}
		table[i] = r
	}
	return table
}()
