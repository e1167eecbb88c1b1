package device

import "strings"

// ResponseStatus is the outcome carried by a card-read result.
type ResponseStatus string

const (
	StatusSuccess   ResponseStatus = "Success"
	StatusCancelled ResponseStatus = "Cancelled"
	StatusTimeout   ResponseStatus = "Timeout"
	StatusFailed    ResponseStatus = "Failed"
	StatusError     ResponseStatus = "Error"
)

// Variant identifies the concrete card-read result type.
type Variant int

const (
	VariantUnencrypted Variant = iota
	VariantEncrypted
	VariantEMV
)

func (v Variant) String() string {
	switch v {
	case VariantEMV:
		return "EMV"
	case VariantEncrypted:
		return "Encrypted"
	default:
		return "Unencrypted"
	}
}

// CardReadResult is one of *EMVCardRead, *EncryptedCardRead or
// *UnencryptedCardRead. The set is closed.
type CardReadResult interface {
	Variant() Variant
	Status() ResponseStatus
	SetStatus(ResponseStatus)
	// Obfuscate masks sensitive card fields in place.
	Obfuscate()

	sealed()
}

// CardReadBase holds the fields shared by every result variant.
type CardReadBase struct {
	ResponseStatus ResponseStatus `json:"status"`
	Errors         []string       `json:"errors,omitempty"`
	CardType       string         `json:"cardType,omitempty"`
	BrandName      string         `json:"brandName,omitempty"`
	FirstSix       string         `json:"firstSix,omitempty"`
	LastFour       string         `json:"lastFour,omitempty"`
	Name           string         `json:"name,omitempty"`
	Expiry         string         `json:"expiry,omitempty"`
}

// Status returns the result status.
func (b *CardReadBase) Status() ResponseStatus { return b.ResponseStatus }

// SetStatus overrides the result status.
func (b *CardReadBase) SetStatus(s ResponseStatus) { b.ResponseStatus = s }

func (b *CardReadBase) obfuscate() {
	b.Name = maskName(b.Name)
	b.Expiry = mask(b.Expiry, 0)
}

// EMVCardRead is a chip read.
type EMVCardRead struct {
	CardReadBase
	PAN               string            `json:"pan,omitempty"`
	Track2Equivalent  string            `json:"track2Equivalent,omitempty"`
	ApplicationID     string            `json:"applicationId,omitempty"`
	ApplicationLabel  string            `json:"applicationLabel,omitempty"`
	Cryptogram        string            `json:"cryptogram,omitempty"`
	CryptogramType    string            `json:"cryptogramType,omitempty"`
	Tags              map[string]string `json:"tags,omitempty"`
	AuthorizationCode string            `json:"authorizationCode,omitempty"`
}

func (*EMVCardRead) Variant() Variant { return VariantEMV }
func (*EMVCardRead) sealed()          {}

// Obfuscate masks the PAN, track data, cryptogram and sensitive TLV tags.
func (r *EMVCardRead) Obfuscate() {
	r.obfuscate()
	r.PAN = maskPAN(r.PAN)
	r.Track2Equivalent = mask(r.Track2Equivalent, 0)
	r.Cryptogram = mask(r.Cryptogram, 0)
	for tag, v := range r.Tags {
		if _, ok := sensitiveEMVTags[strings.ToUpper(tag)]; ok {
			r.Tags[tag] = mask(v, 0)
		}
	}
}

// EMV tags carrying cardholder data.
var sensitiveEMVTags = map[string]struct{}{
	"5A":   {}, // PAN
	"57":   {}, // Track 2 equivalent
	"5F20": {}, // cardholder name
	"5F24": {}, // expiry
	"9F26": {}, // application cryptogram
	"9F1F": {}, // track 1 discretionary
	"9F6B": {}, // track 2 data
}

// EncryptedCardRead is a swipe read with tracks encrypted by the reader.
type EncryptedCardRead struct {
	CardReadBase
	MaskedPAN       string `json:"maskedPan,omitempty"`
	KSN             string `json:"ksn,omitempty"`
	EncryptedTrack1 string `json:"encryptedTrack1,omitempty"`
	EncryptedTrack2 string `json:"encryptedTrack2,omitempty"`
	EncryptedMode   string `json:"encryptedMode,omitempty"`
}

func (*EncryptedCardRead) Variant() Variant { return VariantEncrypted }
func (*EncryptedCardRead) sealed()          {}

// Obfuscate blanks the encrypted payload and key serial.
func (r *EncryptedCardRead) Obfuscate() {
	r.obfuscate()
	r.MaskedPAN = maskPAN(r.MaskedPAN)
	r.KSN = mask(r.KSN, 4)
	r.EncryptedTrack1 = mask(r.EncryptedTrack1, 0)
	r.EncryptedTrack2 = mask(r.EncryptedTrack2, 0)
}

// UnencryptedCardRead is a clear-text swipe read.
type UnencryptedCardRead struct {
	CardReadBase
	PAN    string `json:"pan,omitempty"`
	Track1 string `json:"track1,omitempty"`
	Track2 string `json:"track2,omitempty"`
}

func (*UnencryptedCardRead) Variant() Variant { return VariantUnencrypted }
func (*UnencryptedCardRead) sealed()          {}

// Obfuscate masks the PAN and blanks the raw tracks.
func (r *UnencryptedCardRead) Obfuscate() {
	r.obfuscate()
	r.PAN = maskPAN(r.PAN)
	r.Track1 = mask(r.Track1, 0)
	r.Track2 = mask(r.Track2, 0)
}

// maskPAN keeps the first six and last four digits of a card number.
func maskPAN(pan string) string {
	if len(pan) <= 10 {
		return mask(pan, 0)
	}
	return pan[:6] + strings.Repeat("*", len(pan)-10) + pan[len(pan)-4:]
}

// mask replaces all but the trailing keep characters with '*'.
func mask(s string, keep int) string {
	if s == "" {
		return ""
	}
	if keep >= len(s) {
		keep = 0
	}
	return strings.Repeat("*", len(s)-keep) + s[len(s)-keep:]
}

func maskName(name string) string {
	if name == "" {
		return ""
	}
	parts := strings.Fields(name)
	for i, p := range parts {
		r := []rune(p)
		parts[i] = string(r[0]) + strings.Repeat("*", len(r)-1)
	}
	return strings.Join(parts, " ")
}
