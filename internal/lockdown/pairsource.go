package lockdown

import (
	"idevicekit/internal/mux"
	"idevicekit/internal/plist"
)

// pairSource looks up a pair record from one location. It never returns an
// error for "not found here" — only for something actually broken (a
// malformed file, a socket failure) that the caller may still choose to
// treat as "keep looking," matching spec.md §9's "exception-driven control
// flow... becomes an explicit result-type chain": each source reports
// found/not-found/broken and the caller selects in priority order.
type pairSource func(c *Client, identifier string) (record plist.Dict, found bool, err error)

// locatePairRecord runs the precedence chain from util/lockdown.py's
// _get_pair_record (spec.md §4.5 step 1, §4.12): the OS-specific system
// lockdown directory first, then — only when the device reports iOS >=
// 13.0 — the mux daemon's ReadPairRecord, then the per-user cache. Returns
// (nil, nil) when no source has a record; a source's error is discarded and
// the source treated as not-found, so a corrupt cache entry doesn't block
// pairing from falling through to the next source.
func locatePairRecord(c *Client) (plist.Dict, error) {
	id, err := c.identifier()
	if err != nil {
		return nil, err
	}

	sources := []pairSource{systemPairSource}
	if c.iosVersionAtLeast("13.0") {
		sources = append(sources, muxPairSource)
	}
	sources = append(sources, cachePairSource)

	for _, source := range sources {
		record, found, _ := source(c, id)
		if found {
			return record, nil
		}
	}
	return nil, nil
}

func systemPairSource(c *Client, identifier string) (plist.Dict, bool, error) {
	data, err := c.store.ReadSystem(identifier)
	if err != nil || data == nil {
		return nil, false, err
	}
	record, err := decodePairRecord(data)
	if err != nil {
		return nil, false, err
	}
	return record, true, nil
}

func muxPairSource(c *Client, identifier string) (plist.Dict, bool, error) {
	conn, err := mux.Dial(c.socketPath, mux.ProtocolPlist)
	if err != nil {
		return nil, false, err
	}
	defer conn.Close()

	record, err := conn.ReadPairRecord(identifier)
	if err != nil || record == nil {
		return nil, false, err
	}
	return record, true, nil
}

func cachePairSource(c *Client, identifier string) (plist.Dict, bool, error) {
	data, err := c.store.ReadCache(identifier)
	if err != nil || data == nil {
		return nil, false, err
	}
	record, err := decodePairRecord(data)
	if err != nil {
		return nil, false, err
	}
	return record, true, nil
}

func decodePairRecord(data []byte) (plist.Dict, error) {
	decoded, err := plist.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	dict, _ := decoded.(plist.Dict)
	return dict, nil
}
