package protocol

import (
	"bytes"
	"context"

	"github.com/marmos91/netbridge/pkg/netstatus"
)

// Base carries what every protocol shares: the borrowed buffers, runtime
// options, credentials and the translation mode of the current open.
// Variants embed it.
type Base struct {
	Bufs        *Buffers
	Opts        Options
	Login       string
	Password    string
	Translation Translation
}

// NewBase returns a Base over bufs. Zero-valued options fall back to defaults.
func NewBase(bufs *Buffers, opts Options) Base {
	def := DefaultOptions()
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = def.ConnectTimeout
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = def.ReadTimeout
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = def.WriteTimeout
	}
	if opts.EOL == 0 {
		opts.EOL = def.EOL
	}
	if opts.MaxBytesWaiting == 0 {
		opts.MaxBytesWaiting = def.MaxBytesWaiting
	}
	if bufs == nil {
		bufs = NewBuffers()
	}
	return Base{Bufs: bufs, Opts: opts}
}

// SetCredentials stores the channel login.
func (b *Base) SetCredentials(login, password string) {
	b.Login = login
	b.Password = password
}

// SetTranslation changes the EOL translation of the current open.
func (b *Base) SetTranslation(t Translation) {
	b.Translation = t
}

// SpecialInquiry is the default: no vendor commands.
func (b *Base) SpecialInquiry(byte) Direction {
	return DirUnsupported
}

// SpecialExecute is the default: every vendor command is unsupported.
func (b *Base) SpecialExecute(context.Context, Direction, CommandFrame, []byte) ([]byte, error) {
	return nil, netstatus.New(netstatus.InvalidCommand, "special")
}

// TakeTransmit removes n bytes from the transmit buffer, translated for the
// network. It fails when fewer than n bytes are buffered.
func (b *Base) TakeTransmit(n int) ([]byte, error) {
	if n < 0 || n > b.Bufs.Transmit.Len() {
		return nil, netstatus.Errorf(netstatus.GeneralFailure, "write",
			"%d bytes requested, %d buffered", n, b.Bufs.Transmit.Len())
	}
	return TranslateOut(b.Bufs.Transmit.Next(n), b.Translation, b.Opts.EOL), nil
}

// PutReceive appends network data to the receive buffer, translated for the host.
func (b *Base) PutReceive(p []byte) {
	b.Bufs.Receive.Write(TranslateIn(p, b.Translation, b.Opts.EOL))
}

// TranslateIn converts network line endings to the host EOL byte.
func TranslateIn(p []byte, t Translation, eol byte) []byte {
	switch t {
	case TranslateCR:
		return bytes.ReplaceAll(p, []byte{'\r'}, []byte{eol})
	case TranslateLF:
		return bytes.ReplaceAll(p, []byte{'\n'}, []byte{eol})
	case TranslateCRLF:
		out := make([]byte, 0, len(p))
		for _, c := range p {
			switch c {
			case '\r':
			case '\n':
				out = append(out, eol)
			default:
				out = append(out, c)
			}
		}
		return out
	default:
		return p
	}
}

// TranslateOut converts the host EOL byte to network line endings.
func TranslateOut(p []byte, t Translation, eol byte) []byte {
	switch t {
	case TranslateCR:
		return bytes.ReplaceAll(p, []byte{eol}, []byte{'\r'})
	case TranslateLF:
		return bytes.ReplaceAll(p, []byte{eol}, []byte{'\n'})
	case TranslateCRLF:
		return bytes.ReplaceAll(p, []byte{eol}, []byte{'\r', '\n'})
	default:
		return p
	}
}
