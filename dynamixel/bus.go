package dynamixel

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hipsterbrown/dynamixel-servo/transports"
)

// Bus manages communication with motors on one half-duplex serial bus.
// Only one request/response cycle is in flight at a time.
type Bus struct {
	transport Transport
	codec     Codec
	timeout   time.Duration
	log       *zap.Logger

	mu          sync.Mutex
	lastCmdTime time.Time
	minCmdGap   time.Duration
	closed      bool
}

// BusConfig holds configuration for creating a new Bus.
type BusConfig struct {
	// Transport is the underlying communication transport.
	// If nil, Port must be specified to open a serial connection.
	Transport Transport

	// Port is the serial port path (e.g., "/dev/ttyUSB0").
	// Ignored if Transport is provided.
	Port string

	// BaudRate is the communication speed. Default is 1000000.
	BaudRate int

	// Protocol version: ProtocolV1 (default) or ProtocolV2.
	Protocol Version

	// Timeout for communication operations. Default is 1 second.
	Timeout time.Duration

	// MinCommandGap is the minimum time between commands. Default is 1ms.
	MinCommandGap time.Duration

	// Logger receives frame traces at debug level. Default is a no-op logger.
	Logger *zap.Logger
}

// NewBus creates a new motor bus with the given configuration.
func NewBus(cfg BusConfig) (*Bus, error) {
	// Set defaults
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 1000000
	}
	if cfg.Protocol == 0 {
		cfg.Protocol = ProtocolV1
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Second
	}
	if cfg.MinCommandGap == 0 {
		cfg.MinCommandGap = time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	codec, err := NewCodec(cfg.Protocol)
	if err != nil {
		return nil, err
	}

	// Get or create transport
	transport := cfg.Transport
	if transport == nil {
		if cfg.Port == "" {
			return nil, errors.New("either Transport or Port must be specified")
		}
		transport, err = transports.OpenSerial(transports.SerialConfig{
			Port:     cfg.Port,
			BaudRate: cfg.BaudRate,
			Timeout:  cfg.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open serial port: %w", err)
		}
	}

	return &Bus{
		transport:   transport,
		codec:       codec,
		timeout:     cfg.Timeout,
		log:         cfg.Logger.With(zap.Stringer("protocol", cfg.Protocol)),
		minCmdGap:   cfg.MinCommandGap,
		lastCmdTime: time.Now(),
	}, nil
}

// Close closes the bus and releases resources.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	return b.transport.Close()
}

// Codec returns the protocol codec for this bus.
func (b *Bus) Codec() Codec {
	return b.codec
}

// Transact sends env and, when it expects a response, reads and decodes
// the status packet. The envelope is consumed on every path, including
// errors. Status errors reported by the motor are returned in Packet.Err,
// not as the error result.
func (b *Bus) Transact(ctx context.Context, env *Envelope) (Packet, error) {
	if env == nil {
		return Packet{}, fmt.Errorf("%w: nil envelope", ErrInvalidPacket)
	}
	if env.State() == Consumed {
		return Packet{}, ErrEnvelopeConsumed
	}
	defer env.Release()

	if env.Version() != b.codec.Version() {
		return Packet{}, fmt.Errorf("%w: %s envelope on %s bus", ErrUnsupportedProtocol, env.Version(), b.codec.Version())
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return Packet{}, ErrBusClosed
	}

	data, err := b.exchangeLocked(ctx, env)
	if err != nil || data == nil {
		return Packet{}, err
	}

	pkt, _, err := b.codec.Decode(data)
	if err != nil {
		b.log.Warn("undecodable response", zap.String("frame", hex.EncodeToString(data)), zap.Error(err))
		return Packet{}, err
	}
	return pkt, nil
}

// Ping checks that motor id answers and returns its model number.
func (b *Bus) Ping(ctx context.Context, id int) (int, error) {
	data, err := b.ReadRegister(ctx, id, RegModelNumber)
	if err != nil {
		return 0, err
	}
	return int(DecodeValue(data)), nil
}

// ReadRegister reads reg from motor id.
func (b *Bus) ReadRegister(ctx context.Context, id int, reg *Register) ([]byte, error) {
	if err := validateMotorID(id); err != nil {
		return nil, err
	}

	env, err := b.codec.ReadPacket(byte(id), reg)
	if err != nil {
		return nil, err
	}

	pkt, err := b.request(ctx, id, "read", env)
	if err != nil {
		return nil, err
	}
	if len(pkt.Parameters) != int(reg.Length()) {
		return nil, &MotorError{ID: id, Op: "read", Err: fmt.Errorf("%w: got %d data bytes, want %d", ErrInvalidPacket, len(pkt.Parameters), reg.Length())}
	}
	return pkt.Parameters, nil
}

// WriteRegister writes data to reg on motor id. Writes to BroadcastID are
// not acknowledged.
func (b *Bus) WriteRegister(ctx context.Context, id int, reg *Register, data []byte) error {
	if id != BroadcastID {
		if err := validateMotorID(id); err != nil {
			return err
		}
	}

	env, err := b.codec.WritePacket(byte(id), reg, data)
	if err != nil {
		return err
	}

	_, err = b.request(ctx, id, "write", env)
	return err
}

// SyncWrite writes the same register on several motors with one broadcast
// packet. data maps motor ID to the bytes to write.
func (b *Bus) SyncWrite(ctx context.Context, reg *Register, data map[int][]byte) error {
	byteData := make(map[byte][]byte, len(data))
	for id, d := range data {
		if err := validateMotorID(id); err != nil {
			return err
		}
		byteData[byte(id)] = d
	}

	env, err := b.codec.SyncWritePacket(reg, byteData)
	if err != nil {
		return err
	}

	// Sync write to broadcast ID gets no response
	if _, err := b.Transact(ctx, env); err != nil {
		return &CommError{Op: "sync_write", Err: err}
	}
	return nil
}

// RegWrite buffers a write of data to reg on motor id. Nothing moves until
// Action is sent. Protocol v1 only.
func (b *Bus) RegWrite(ctx context.Context, id int, reg *Register, data []byte) error {
	codec, ok := b.codec.(V1Codec)
	if !ok {
		return fmt.Errorf("%w: reg write needs protocol v1", ErrUnsupportedProtocol)
	}
	if err := validateMotorID(id); err != nil {
		return err
	}

	env, err := codec.RegWritePacket(byte(id), reg, data)
	if err != nil {
		return err
	}

	_, err = b.request(ctx, id, "reg_write", env)
	return err
}

// Action applies the writes buffered with RegWrite on every motor at once.
// Protocol v1 only.
func (b *Bus) Action(ctx context.Context) error {
	codec, ok := b.codec.(V1Codec)
	if !ok {
		return fmt.Errorf("%w: action needs protocol v1", ErrUnsupportedProtocol)
	}

	env, err := codec.ActionPacket()
	if err != nil {
		return err
	}

	if _, err := b.Transact(ctx, env); err != nil {
		return &CommError{Op: "action", Err: err}
	}
	return nil
}

// SyncRead reads the same register from several motors.
// Returns a map of motor ID to the data read.
// Note: Only supported in ProtocolV2.
func (b *Bus) SyncRead(ctx context.Context, reg *Register, ids []int) (map[int][]byte, error) {
	codec, ok := b.codec.(V2Codec)
	if !ok {
		return nil, fmt.Errorf("%w: sync read needs protocol v2", ErrUnsupportedProtocol)
	}

	byteIDs := make([]byte, len(ids))
	for i, id := range ids {
		if err := validateMotorID(id); err != nil {
			return nil, err
		}
		byteIDs[i] = byte(id)
	}

	env, err := codec.SyncReadPacket(reg, byteIDs)
	if err != nil {
		return nil, err
	}
	defer env.Release()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}

	rawData, err := b.exchangeLocked(ctx, env)
	if err != nil {
		return nil, &CommError{Op: "sync_read", Err: err}
	}

	packets, err := codec.DecodeMultiple(rawData, len(ids))
	if err != nil {
		return nil, &CommError{Op: "sync_read", Err: err}
	}

	result := make(map[int][]byte, len(packets))
	for _, pkt := range packets {
		if pkt.Err != nil {
			return nil, &MotorError{ID: int(pkt.ID), Op: "sync_read", Err: pkt.Err}
		}
		result[int(pkt.ID)] = pkt.Parameters
	}

	// Check for missing responses
	for _, id := range ids {
		if _, ok := result[id]; !ok {
			return result, &MotorError{ID: id, Op: "sync_read", Err: ErrNoResponse}
		}
	}

	return result, nil
}

// Scan searches for motors by pinging each ID in the range.
func (b *Bus) Scan(ctx context.Context, startID, endID int) ([]FoundMotor, error) {
	if startID < 0 || endID > MaxMotorID || startID > endID {
		return nil, fmt.Errorf("invalid ID range: %d to %d", startID, endID)
	}

	var found []FoundMotor

	for id := startID; id <= endID; id++ {
		select {
		case <-ctx.Done():
			return found, ctx.Err()
		default:
		}

		modelNum, err := b.Ping(ctx, id)
		if err != nil {
			if errors.Is(err, ErrBusClosed) {
				return found, err
			}
			continue // No response at this ID
		}

		f := FoundMotor{
			ID:          id,
			ModelNumber: modelNum,
		}
		if model, ok := GetModelByNumber(modelNum); ok {
			f.Model = model
		}

		b.log.Info("motor found", zap.Int("id", id), zap.Int("model_number", modelNum))
		found = append(found, f)
	}

	return found, nil
}

// FoundMotor represents a motor discovered during scanning.
type FoundMotor struct {
	ID          int
	ModelNumber int
	Model       *Model // May be nil if model is unknown
}

// Internal methods

// request runs one addressed transaction and turns every failure into a
// *CommError or *MotorError.
func (b *Bus) request(ctx context.Context, id int, op string, env *Envelope) (Packet, error) {
	expectsResponse := env.ExpectsResponse()

	pkt, err := b.Transact(ctx, env)
	if err != nil {
		if errors.Is(err, ErrBusClosed) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Packet{}, err
		}
		var commErr *CommError
		if errors.As(err, &commErr) {
			return Packet{}, err
		}
		return Packet{}, &MotorError{ID: id, Op: op, Err: err}
	}
	if !expectsResponse {
		return Packet{}, nil
	}

	if int(pkt.ID) != id {
		return Packet{}, &MotorError{ID: id, Op: op, Err: fmt.Errorf("%w: wrong motor ID in response: got %d", ErrInvalidPacket, pkt.ID)}
	}
	if pkt.Err != nil {
		return Packet{}, &MotorError{ID: id, Op: op, Err: pkt.Err}
	}
	return pkt, nil
}

// exchangeLocked sends env and returns the raw response, or nil when none
// is expected.
func (b *Bus) exchangeLocked(ctx context.Context, env *Envelope) ([]byte, error) {
	if err := b.sendPacketLocked(env.Bytes()); err != nil {
		return nil, &CommError{Op: "send", Err: err}
	}
	if !env.ExpectsResponse() {
		return nil, nil
	}

	data, err := b.readRawBytesLocked(ctx, env.ResponseSize())
	if err != nil {
		return nil, err
	}
	b.log.Debug("rx", zap.String("frame", hex.EncodeToString(data)))
	return data, nil
}

func (b *Bus) enforceCommandGap() {
	elapsed := time.Since(b.lastCmdTime)
	if elapsed < b.minCmdGap {
		time.Sleep(b.minCmdGap - elapsed)
	}
}

func (b *Bus) sendPacketLocked(packet []byte) error {
	b.enforceCommandGap()

	// Flush any stale input
	if err := b.transport.Flush(); err != nil {
		b.log.Warn("flush failed", zap.Error(err))
	}

	b.log.Debug("tx", zap.String("frame", hex.EncodeToString(packet)))

	n, err := b.transport.Write(packet)
	if err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	if n != len(packet) {
		return fmt.Errorf("incomplete write: %d of %d bytes", n, len(packet))
	}

	b.lastCmdTime = time.Now()

	// Small delay for half-duplex turnaround
	time.Sleep(100 * time.Microsecond)

	return nil
}

func (b *Bus) readRawBytesLocked(ctx context.Context, expectedLen int) ([]byte, error) {
	buffer := make([]byte, expectedLen*2) // Extra space for leading garbage
	totalRead := 0
	deadline := time.Now().Add(b.timeout)

	for totalRead < expectedLen {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if time.Now().After(deadline) {
			if totalRead == 0 {
				return nil, ErrNoResponse
			}
			return nil, fmt.Errorf("%w: read %d of %d expected bytes", ErrTimeout, totalRead, expectedLen)
		}

		remaining := max(time.Until(deadline), 10*time.Millisecond)
		if err := b.transport.SetReadTimeout(remaining); err != nil {
			return nil, fmt.Errorf("set read timeout: %w", err)
		}

		n, err := b.transport.Read(buffer[totalRead:])
		if err != nil {
			// Check if it's a timeout (expected when waiting)
			if n == 0 {
				time.Sleep(time.Millisecond)
				continue
			}
			return nil, fmt.Errorf("read error: %w", err)
		}

		totalRead += n
	}

	return buffer[:totalRead], nil
}
