package discovery

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeBackendTXT creates TXT records for a backend.
func EncodeBackendTXT(info *BackendInfo) TXTRecordMap {
	txt := make(TXTRecordMap)

	// Required fields
	txt[TXTKeyVersion] = strconv.Itoa(ProtocolVersion)
	txt[TXTKeyStreamPath] = info.StreamPath
	txt[TXTKeyTokenPath] = info.TokenPath

	// Optional fields
	if info.Transport != "" {
		txt[TXTKeyTransport] = info.Transport
	}
	if info.TLS {
		txt[TXTKeyTLS] = "1"
	}

	return txt
}

// DecodeBackendTXT parses TXT records of a backend into a service
// description. Address fields are left empty.
func DecodeBackendTXT(txt TXTRecordMap) (*BackendService, error) {
	svc := &BackendService{}

	vStr, ok := txt[TXTKeyVersion]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyVersion)
	}
	v, err := strconv.Atoi(vStr)
	if err != nil || v < 1 {
		return nil, fmt.Errorf("%w: version %q", ErrInvalidTXTRecord, vStr)
	}
	svc.Version = v

	if svc.StreamPath, ok = txt[TXTKeyStreamPath]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyStreamPath)
	}
	if svc.TokenPath, ok = txt[TXTKeyTokenPath]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyTokenPath)
	}
	for _, p := range []string{svc.StreamPath, svc.TokenPath} {
		if !strings.HasPrefix(p, "/") {
			return nil, fmt.Errorf("%w: path %q", ErrInvalidTXTRecord, p)
		}
	}

	svc.Transport = txt[TXTKeyTransport]
	if svc.Transport == "" {
		svc.Transport = "sse"
	}
	svc.TLS = txt[TXTKeyTLS] == "1"

	return svc, nil
}

// TXTRecordsToStrings converts a TXTRecordMap to sorted "key=value" strings.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, k+"="+v)
	}
	sort.Strings(result)
	return result
}

// StringsToTXTRecords parses a slice of "key=value" strings into a TXTRecordMap.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		k, v, found := strings.Cut(s, "=")
		if k == "" {
			continue
		}
		if !found {
			// Key without value (boolean flag)
			v = ""
		}
		txt[k] = v
	}
	return txt
}

// ValidateInstanceName checks if an instance name is valid for mDNS.
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrMissingRequired)
	}
	if len(name) > MaxInstanceNameLen {
		return ErrInstanceNameTooLong
	}
	return nil
}
