// Package digest はOCIレジストリで使用するコンテンツダイジェストを提供する。
package digest

import (
	_ "crypto/sha256" // go-digestのsha256を有効化
	_ "crypto/sha512" // go-digestのsha384/sha512を有効化
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	godigest "github.com/opencontainers/go-digest"
)

// ErrInvalidDigest はダイジェスト文字列の形式が不正な場合のエラー。
var ErrInvalidDigest = errors.New("invalid digest")

// ErrDigestMismatch はコンテンツがダイジェストと一致しない場合のエラー。
var ErrDigestMismatch = errors.New("provided digest did not match uploaded content")

// ErrUnsupportedAlgorithm は検証できないアルゴリズムが指定された場合のエラー。
var ErrUnsupportedAlgorithm = errors.New("unsupported digest algorithm")

var digestRegex = regexp.MustCompile(`^[A-Za-z0-9_+.-]+:[A-Fa-f0-9]+$`)

// Digest は "algorithm:hex" 形式のコンテンツ識別子を表す。
// hexの大文字小文字は入力のまま保持し、比較時には区別しない。
// アルゴリズム名は大文字小文字を区別し、検証できるのは小文字の登録済みアルゴリズムのみ。
type Digest struct {
	algorithm string
	hex       string
}

// Parse は文字列をDigestに変換する。
func Parse(s string) (Digest, error) {
	if !digestRegex.MatchString(s) {
		return Digest{}, fmt.Errorf("%w: %q", ErrInvalidDigest, s)
	}
	i := strings.IndexByte(s, ':')
	return Digest{algorithm: s[:i], hex: s[i+1:]}, nil
}

// MustParse はParseに失敗した場合にpanicする。
func MustParse(s string) Digest {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// FromReader はrの内容からアルゴリズムalgorithmのダイジェストを計算する。
func FromReader(algorithm string, r io.Reader) (Digest, error) {
	alg := godigest.Algorithm(algorithm)
	if !alg.Available() {
		return Digest{}, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, algorithm)
	}
	d, err := alg.FromReader(r)
	if err != nil {
		return Digest{}, fmt.Errorf("computing digest: %w", err)
	}
	return Parse(d.String())
}

// Algorithm はアルゴリズム名を返す。
func (d Digest) Algorithm() string {
	return d.algorithm
}

// Hex はエンコード部分を入力のまま返す。
func (d Digest) Hex() string {
	return d.hex
}

// String はParseに渡された形式をそのまま返す。
func (d Digest) String() string {
	if d.algorithm == "" {
		return ""
	}
	return d.algorithm + ":" + d.hex
}

// Canonical はhexを小文字に正規化した形式を返す。ストレージのキーにはこちらを使う。
func (d Digest) Canonical() string {
	if d.algorithm == "" {
		return ""
	}
	return d.algorithm + ":" + strings.ToLower(d.hex)
}

// Equal はアルゴリズムとhexを比較する。hexの大文字小文字は区別しない。
func (d Digest) Equal(other Digest) bool {
	return d.algorithm == other.algorithm && strings.EqualFold(d.hex, other.hex)
}

// IsZero はゼロ値かどうかを返す。
func (d Digest) IsZero() bool {
	return d.algorithm == ""
}

// Supported はgo-digestでこのアルゴリズムを検証できるかを返す。
func (d Digest) Supported() bool {
	return godigest.Algorithm(d.algorithm).Available()
}

// Validate は既知のアルゴリズムについてhexの長さを含めて厳密に検証する。
func (d Digest) Validate() error {
	if !d.Supported() {
		return fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, d.algorithm)
	}
	if err := godigest.Digest(d.Canonical()).Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDigest, err)
	}
	return nil
}

// Verify はrの内容がこのダイジェストと一致するかを検証する。
func (d Digest) Verify(r io.Reader) error {
	if err := d.Validate(); err != nil {
		return err
	}
	verifier := godigest.Digest(d.Canonical()).Verifier()
	if _, err := io.Copy(verifier, r); err != nil {
		return fmt.Errorf("reading content: %w", err)
	}
	if !verifier.Verified() {
		return ErrDigestMismatch
	}
	return nil
}

// MarshalText はString()の形式で出力する。
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText はParseで読み込む。
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
