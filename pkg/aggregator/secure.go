package aggregator

import (
	"context"
	"crypto/ecdh"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/absmach/fedsim/pkg/crypto"
	pkgerrors "github.com/absmach/fedsim/pkg/errors"
)

const (
	// fixedPointScale maps a float to its fixed-point representation. Sums
	// wrap modulo 2^64, so masks cancel exactly.
	fixedPointScale = 1 << 32

	maskLabel = "fedsim/mask"
	sealLabel = "fedsim/seal"
)

// secure runs pairwise-masked secure summation: every pair of clients agrees
// on an X25519 key, expands it into a mask stream, and one adds the stream
// while the other subtracts it. Each client seals its masked vector for the
// server. The server only ever decrypts masked vectors and learns nothing but
// their sum. Key pairs are fresh for every call.
type secure struct{}

func NewSecure() Aggregator {
	return secure{}
}

func (secure) Name() string {
	return KindSecure
}

type participant struct {
	key    *ecdh.PrivateKey
	sealed []byte
}

func (s secure) Aggregate(ctx context.Context, updates []ClientUpdate) (AggregatedUpdate, error) {
	if err := validate(updates); err != nil {
		return AggregatedUpdate{}, err
	}

	server, err := crypto.GenerateKey()
	if err != nil {
		return AggregatedUpdate{}, err
	}
	parts := make([]participant, len(updates))
	for i := range parts {
		if parts[i].key, err = crypto.GenerateKey(); err != nil {
			return AggregatedUpdate{}, err
		}
	}

	for i, u := range updates {
		if err := ctx.Err(); err != nil {
			return AggregatedUpdate{}, err
		}
		vec, err := encode(u, len(updates))
		if err != nil {
			return AggregatedUpdate{}, err
		}
		if err := mask(vec, i, parts); err != nil {
			return AggregatedUpdate{}, err
		}
		key, err := crypto.SharedKey(parts[i].key, server.PublicKey(), sealLabel)
		if err != nil {
			return AggregatedUpdate{}, err
		}
		if parts[i].sealed, err = crypto.Encrypt(toBytes(vec), key); err != nil {
			return AggregatedUpdate{}, err
		}
	}

	size := updates[0].Delta.NumParams() + 1
	sum := make([]uint64, size)
	for i, p := range parts {
		key, err := crypto.SharedKey(server, p.key.PublicKey(), sealLabel)
		if err != nil {
			return AggregatedUpdate{}, err
		}
		plain, err := crypto.Decrypt(p.sealed, key)
		if err != nil {
			return AggregatedUpdate{}, fmt.Errorf("client %q: %w", updates[i].ClientID, err)
		}
		if len(plain) != 8*size {
			return AggregatedUpdate{}, fmt.Errorf("%w: client %q sent %d bytes", pkgerrors.ErrInvalidData, updates[i].ClientID, len(plain))
		}
		for k := range sum {
			sum[k] += binary.LittleEndian.Uint64(plain[8*k:])
		}
	}

	values := make([]float64, size)
	for k, v := range sum {
		values[k] = float64(int64(v)) / fixedPointScale
	}
	delta := updates[0].Delta.ZerosLike()
	if err := delta.Unflatten(values[:size-1]); err != nil {
		return AggregatedUpdate{}, err
	}

	return mean(delta, values[size-1], len(updates)), nil
}

// encode returns weight*delta followed by the weight, in fixed point. Each
// value is bounded so that the sum over n clients cannot overflow.
func encode(u ClientUpdate, n int) ([]uint64, error) {
	limit := float64(math.MaxInt64) / float64(n) / 2
	flat := u.Delta.Flatten()
	flat = append(flat, 1)
	out := make([]uint64, len(flat))
	for k, v := range flat {
		x := v * u.Weight * fixedPointScale
		if math.IsNaN(x) {
			return nil, fmt.Errorf("%w: client %q delta contains NaN", pkgerrors.ErrInvalidData, u.ClientID)
		}
		if math.Abs(x) >= limit {
			return nil, fmt.Errorf("%w: client %q value %v", pkgerrors.ErrOverflow, u.ClientID, v*u.Weight)
		}
		out[k] = uint64(int64(math.Round(x)))
	}

	return out, nil
}

// mask adds the pairwise masks of participant i to vec. For every pair the
// lower index adds and the higher index subtracts the shared stream.
func mask(vec []uint64, i int, parts []participant) error {
	for j := range parts {
		if j == i {
			continue
		}
		key, err := crypto.SharedKey(parts[i].key, parts[j].key.PublicKey(), maskLabel)
		if err != nil {
			return err
		}
		stream, err := crypto.MaskStream(key)
		if err != nil {
			return err
		}
		for k := range vec {
			m := stream.Uint64()
			if i < j {
				vec[k] += m
			} else {
				vec[k] -= m
			}
		}
	}

	return nil
}

func toBytes(vec []uint64) []byte {
	out := make([]byte, 0, 8*len(vec))
	for _, v := range vec {
		out = binary.LittleEndian.AppendUint64(out, v)
	}

	return out
}
