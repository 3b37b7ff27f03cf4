package transport

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bogdanfinn/fhttp/http2"
	"github.com/bogdanfinn/tls-client/profiles"
	tls "github.com/bogdanfinn/utls"
)

// profileFromJA3 builds a custom tls-client profile from a JA3 fingerprint
// string, format TLSVersion,Ciphers,Extensions,Curves,PointFormats with
// dash-separated decimal fields. h2Settings optionally carries HTTP/2
// SETTINGS as "id:value;id:value" in wire order; when empty the Chrome
// defaults apply.
func profileFromJA3(ja3, h2Settings string) (profiles.ClientProfile, error) {
	spec, err := specFromJA3(ja3)
	if err != nil {
		return profiles.ClientProfile{}, err
	}

	settings, settingsOrder := defaultH2Settings()
	if h2Settings != "" {
		settings, settingsOrder, err = parseH2Settings(h2Settings)
		if err != nil {
			return profiles.ClientProfile{}, err
		}
	}

	helloID := tls.ClientHelloID{
		Client:  "Custom",
		Version: "1",
		SpecFactory: func() (tls.ClientHelloSpec, error) {
			return *spec, nil
		},
	}

	return profiles.NewClientProfile(
		helloID,
		settings,
		settingsOrder,
		[]string{":method", ":authority", ":scheme", ":path"},
		15663105,
		nil,
		nil,
		0,
		false,
		nil,
		nil,
		0,
		nil,
		false,
	), nil
}

// isGREASE reports whether v is a TLS GREASE value (RFC 8701).
func isGREASE(v uint16) bool {
	return (v & 0x0f0f) == 0x0a0a
}

func specFromJA3(ja3 string) (*tls.ClientHelloSpec, error) {
	parts := strings.Split(ja3, ",")
	if len(parts) != 5 {
		return nil, fmt.Errorf("ja3: expected 5 comma-separated fields, got %d", len(parts))
	}

	tlsVersion, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 16)
	if err != nil {
		return nil, fmt.Errorf("ja3: invalid TLS version %q: %w", parts[0], err)
	}

	cipherSuites, err := parseDashedUint16(parts[1])
	if err != nil {
		return nil, fmt.Errorf("ja3: invalid cipher suites: %w", err)
	}
	var ciphers []uint16
	for _, cs := range cipherSuites {
		if !isGREASE(cs) {
			ciphers = append(ciphers, cs)
		}
	}
	if len(ciphers) == 0 {
		return nil, fmt.Errorf("ja3: no cipher suites")
	}

	extensionIDs, err := parseDashedUint16(parts[2])
	if err != nil {
		return nil, fmt.Errorf("ja3: invalid extensions: %w", err)
	}

	curveIDs, err := parseDashedUint16(parts[3])
	if err != nil {
		return nil, fmt.Errorf("ja3: invalid elliptic curves: %w", err)
	}
	var curves []tls.CurveID
	for _, c := range curveIDs {
		if !isGREASE(c) {
			curves = append(curves, tls.CurveID(c))
		}
	}

	pointFormats, err := parseDashedUint8(parts[4])
	if err != nil {
		return nil, fmt.Errorf("ja3: invalid point formats: %w", err)
	}

	extensions := make([]tls.TLSExtension, 0, len(extensionIDs))
	for _, id := range extensionIDs {
		if isGREASE(id) {
			extensions = append(extensions, &tls.UtlsGREASEExtension{})
			continue
		}
		extensions = append(extensions, extensionForID(id, curves, pointFormats))
	}

	// JA3 records the ClientHello version field, which stays 0x0303 even for
	// TLS 1.3 clients; the real maximum lives in supported_versions (ext 43).
	maxVersion := uint16(tlsVersion)
	for _, id := range extensionIDs {
		if id == 43 {
			maxVersion = tls.VersionTLS13
			break
		}
	}
	if maxVersion < tls.VersionTLS12 {
		maxVersion = tls.VersionTLS12
	}

	return &tls.ClientHelloSpec{
		TLSVersMin:         tls.VersionTLS12,
		TLSVersMax:         maxVersion,
		CipherSuites:       ciphers,
		CompressionMethods: []byte{0x00},
		Extensions:         extensions,
	}, nil
}

// extensionForID maps a JA3 extension ID to a utls extension. JA3 encodes
// only the IDs, so extension payloads use modern Chrome defaults.
func extensionForID(id uint16, curves []tls.CurveID, pointFormats []uint8) tls.TLSExtension {
	switch id {
	case 0:
		return &tls.SNIExtension{}
	case 5:
		return &tls.StatusRequestExtension{}
	case 10:
		return &tls.SupportedCurvesExtension{Curves: curves}
	case 11:
		return &tls.SupportedPointsExtension{SupportedPoints: pointFormats}
	case 13:
		return &tls.SignatureAlgorithmsExtension{SupportedSignatureAlgorithms: defaultSignatureAlgorithms}
	case 16:
		return &tls.ALPNExtension{AlpnProtocols: []string{"h2", "http/1.1"}}
	case 18:
		return &tls.SCTExtension{}
	case 21:
		return &tls.UtlsPaddingExtension{GetPaddingLen: tls.BoringPaddingStyle}
	case 23:
		return &tls.ExtendedMasterSecretExtension{}
	case 27:
		return &tls.UtlsCompressCertExtension{Algorithms: []tls.CertCompressionAlgo{tls.CertCompressionBrotli}}
	case 35:
		return &tls.SessionTicketExtension{}
	case 43:
		return &tls.SupportedVersionsExtension{Versions: []uint16{tls.VersionTLS13, tls.VersionTLS12}}
	case 45:
		return &tls.PSKKeyExchangeModesExtension{Modes: []uint8{tls.PskModeDHE}}
	case 51:
		return &tls.KeyShareExtension{KeyShares: defaultKeyShares(curves)}
	case 17513:
		return &tls.ApplicationSettingsExtension{SupportedProtocols: []string{"h2"}}
	case 65281:
		return &tls.RenegotiationInfoExtension{Renegotiation: tls.RenegotiateOnceAsClient}
	default:
		return &tls.GenericExtension{Id: id}
	}
}

var defaultSignatureAlgorithms = []tls.SignatureScheme{
	tls.ECDSAWithP256AndSHA256,
	tls.PSSWithSHA256,
	tls.PKCS1WithSHA256,
	tls.ECDSAWithP384AndSHA384,
	tls.PSSWithSHA384,
	tls.PKCS1WithSHA384,
	tls.PSSWithSHA512,
	tls.PKCS1WithSHA512,
}

// defaultKeyShares offers a share for the first TLS 1.3 group in the curve
// list, falling back to X25519.
func defaultKeyShares(curves []tls.CurveID) []tls.KeyShare {
	for _, c := range curves {
		if c == tls.X25519 || c == tls.CurveP256 {
			return []tls.KeyShare{{Group: c}}
		}
	}
	return []tls.KeyShare{{Group: tls.X25519}}
}

// h2SettingIDs limits custom SETTINGS to the identifiers RFC 9113 defines.
var h2SettingIDs = map[uint16]http2.SettingID{
	1: http2.SettingHeaderTableSize,
	2: http2.SettingEnablePush,
	3: http2.SettingMaxConcurrentStreams,
	4: http2.SettingInitialWindowSize,
	5: http2.SettingMaxFrameSize,
	6: http2.SettingMaxHeaderListSize,
}

// parseH2Settings parses "id:value;id:value" SETTINGS, preserving wire order.
func parseH2Settings(raw string) (map[http2.SettingID]uint32, []http2.SettingID, error) {
	settings := make(map[http2.SettingID]uint32)
	var order []http2.SettingID
	for _, pair := range strings.Split(raw, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, ":", 2)
		if len(kv) != 2 {
			return nil, nil, fmt.Errorf("http2_settings: bad pair %q", pair)
		}
		id, err := strconv.ParseUint(strings.TrimSpace(kv[0]), 10, 16)
		if err != nil {
			return nil, nil, fmt.Errorf("http2_settings: bad id %q: %w", kv[0], err)
		}
		val, err := strconv.ParseUint(strings.TrimSpace(kv[1]), 10, 32)
		if err != nil {
			return nil, nil, fmt.Errorf("http2_settings: bad value %q: %w", kv[1], err)
		}
		sid, ok := h2SettingIDs[uint16(id)]
		if !ok {
			return nil, nil, fmt.Errorf("http2_settings: unknown setting id %d", id)
		}
		if _, dup := settings[sid]; dup {
			return nil, nil, fmt.Errorf("http2_settings: duplicate setting id %d", id)
		}
		settings[sid] = uint32(val)
		order = append(order, sid)
	}
	if len(order) == 0 {
		return nil, nil, fmt.Errorf("http2_settings: no settings")
	}
	return settings, order, nil
}

// defaultH2Settings mirrors current Chrome.
func defaultH2Settings() (map[http2.SettingID]uint32, []http2.SettingID) {
	return map[http2.SettingID]uint32{
			http2.SettingHeaderTableSize:   65536,
			http2.SettingEnablePush:        0,
			http2.SettingInitialWindowSize: 6291456,
			http2.SettingMaxHeaderListSize: 262144,
		}, []http2.SettingID{
			http2.SettingHeaderTableSize,
			http2.SettingEnablePush,
			http2.SettingInitialWindowSize,
			http2.SettingMaxHeaderListSize,
		}
}

func parseDashedUint16(field string) ([]uint16, error) {
	field = strings.TrimSpace(field)
	if field == "" {
		return nil, nil
	}
	parts := strings.Split(field, "-")
	out := make([]uint16, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 16)
		if err != nil {
			return nil, err
		}
		out = append(out, uint16(v))
	}
	return out, nil
}

func parseDashedUint8(field string) ([]uint8, error) {
	field = strings.TrimSpace(field)
	if field == "" {
		return nil, nil
	}
	parts := strings.Split(field, "-")
	out := make([]uint8, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 8)
		if err != nil {
			return nil, err
		}
		out = append(out, uint8(v))
	}
	return out, nil
}
