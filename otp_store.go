package mailotp

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/mailotp/mailotp/internal"
	"github.com/redis/go-redis/v9"
)

const otpRecordVersionV1 = 1

// otpRecord is what lives under the passcode key: the code digest and its
// issuance instant. The plaintext code exists only in the Notifier message.
type otpRecord struct {
	CodeHash [32]byte
	IssuedAt int64
}

// otpStore manages the single live passcode per identity. Issue overwrites
// unconditionally (supersession, never append); Consume deletes atomically
// with the digest comparison so a code can match at most once, regardless
// of how many verifiers race.
type otpStore struct {
	redis  redis.UniversalClient
	prefix string
	digits int
	ttl    time.Duration
}

func newOTPStore(redisClient redis.UniversalClient, prefix string, digits int, ttl time.Duration) *otpStore {
	return &otpStore{
		redis:  redisClient,
		prefix: prefix,
		digits: digits,
		ttl:    ttl,
	}
}

func (s *otpStore) key(identity string) string {
	return s.prefix + ":code:" + identity
}

// Issue generates a fresh passcode for the identity and stores its digest
// with the configured TTL. Any prior live code for the identity is
// superseded by the SET, whatever its remaining lifetime.
func (s *otpStore) Issue(ctx context.Context, identity string) (string, error) {
	code, err := internal.NewCode(s.digits)
	if err != nil {
		return "", err
	}

	record := &otpRecord{
		CodeHash: internal.HashCode(code),
		IssuedAt: time.Now().Unix(),
	}

	if err := s.redis.Set(ctx, s.key(identity), encodeOTPRecord(record), s.ttl).Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return code, nil
}

// Consume compares the supplied code against the identity's live record
// and, only on an exact match, deletes the record in the same atomic step.
// Absent record, undecodable record, and digest mismatch all come back as
// matched=false with no distinguishing signal.
//
// The match-then-delete runs under WATCH: if another verifier consumes or a
// new issuance supersedes the record between the read and the EXEC, the
// transaction aborts and the attempt re-reads. Two verifiers racing on the
// same correct code therefore cannot both observe a match: the loser's
// retry finds the key gone.
func (s *otpStore) Consume(ctx context.Context, identity, suppliedCode string) (bool, error) {
	const maxRetries = 4
	key := s.key(identity)
	suppliedHash := internal.HashCode(suppliedCode)

	for i := 0; i < maxRetries; i++ {
		var matched bool

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeOTPRecord(data)
			if err != nil {
				return err
			}

			if subtle.ConstantTimeCompare(record.CodeHash[:], suppliedHash[:]) != 1 {
				// Leave the record in place: remaining attempts within the
				// TTL may still present the right code.
				return errOTPMismatch
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			if err != nil {
				return err
			}

			matched = true
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil), errors.Is(err, errOTPMismatch), isOTPDecodeError(err):
				return false, nil
			default:
				return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			}
		}

		return matched, nil
	}

	// Retry budget exhausted under contention. Someone else won the record;
	// for this caller that is indistinguishable from no record at all.
	return false, nil
}

// Invalidate removes the live passcode, if any. Idempotent.
func (s *otpStore) Invalidate(ctx context.Context, identity string) error {
	if err := s.redis.Del(ctx, s.key(identity)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

var (
	errOTPMismatch  = errors.New("otp digest mismatch")
	errOTPBadRecord = errors.New("otp record undecodable")
)

func isOTPDecodeError(err error) bool {
	return errors.Is(err, errOTPBadRecord)
}

func encodeOTPRecord(record *otpRecord) []byte {
	buf := make([]byte, 0, 1+8+len(record.CodeHash))
	buf = append(buf, otpRecordVersionV1)
	buf = binary.BigEndian.AppendUint64(buf, uint64(record.IssuedAt))
	buf = append(buf, record.CodeHash[:]...)
	return buf
}

func decodeOTPRecord(data []byte) (*otpRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil || version != otpRecordVersionV1 {
		return nil, errOTPBadRecord
	}

	record := &otpRecord{}

	var issuedAt uint64
	if err := binary.Read(reader, binary.BigEndian, &issuedAt); err != nil {
		return nil, errOTPBadRecord
	}
	record.IssuedAt = int64(issuedAt)

	if _, err := io.ReadFull(reader, record.CodeHash[:]); err != nil {
		return nil, errOTPBadRecord
	}

	return record, nil
}
