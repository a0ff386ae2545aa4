package android

import (
	"context"
	"sort"

	"github.com/avream/avreamd/internal/adb"
)

// DeviceGroup is one physical phone, its adb entries deduped across
// transports.
type DeviceGroup struct {
	ID                    string            `json:"id"`
	State                 string            `json:"state"`
	Transports            []string          `json:"transports"`
	Serials               map[string]string `json:"serials"`
	Transport             string            `json:"transport"`
	Serial                string            `json:"serial"`
	WifiCandidateIP       string            `json:"wifi_candidate_ip,omitempty"`
	WifiCandidateEndpoint string            `json:"wifi_candidate_endpoint,omitempty"`
}

// ScanResult is the device scan answer with a pick recommendation.
type ScanResult struct {
	Devices             []DeviceGroup `json:"devices"`
	Recommended         string        `json:"recommended"`
	RecommendedID       string        `json:"recommended_id"`
	AvailableTransports []string      `json:"available_transports"`
}

// ScanDevices groups adb entries by physical device identity so the same
// phone attached over USB and Wi-Fi shows up once. USB-attached ready
// devices are probed for a Wi-Fi candidate endpoint so a client can offer
// wireless mode before tcpip setup happened.
func ScanDevices(ctx context.Context, adapter *adb.Adapter) ScanResult {
	groups := make(map[string]*DeviceGroup)
	var order []string
	transportSet := make(map[string]struct{})

	for _, dev := range adapter.ListDevices(ctx) {
		if dev.Serial == "" {
			continue
		}
		transport := adb.TransportOf(dev.Serial)
		transportSet[transport] = struct{}{}

		key := "adb:" + dev.Serial
		if dev.State == "device" {
			if identity := adapter.DeviceIdentity(ctx, dev.Serial); identity != "" {
				key = identity
			}
		}

		group := groups[key]
		if group == nil {
			group = &DeviceGroup{
				ID:      key,
				State:   dev.State,
				Serials: make(map[string]string),
			}
			groups[key] = group
			order = append(order, key)
		}
		group.Serials[transport] = dev.Serial
		if group.State != "device" && dev.State == "device" {
			group.State = "device"
		}

		if dev.State == "device" && transport == "usb" {
			if ip := adapter.DetectDeviceIP(ctx, dev.Serial); ip != "" {
				group.WifiCandidateIP = ip
				group.WifiCandidateEndpoint = adb.NormalizeEndpoint(ip, 5555)
				transportSet["wifi"] = struct{}{}
			}
		}
	}

	devices := make([]DeviceGroup, 0, len(order))
	for _, key := range order {
		group := groups[key]
		for transport := range group.Serials {
			group.Transports = append(group.Transports, transport)
		}
		sort.Strings(group.Transports)

		switch {
		case group.Serials["usb"] != "":
			group.Transport = "usb"
		case group.Serials["wifi"] != "":
			group.Transport = "wifi"
		case len(group.Transports) > 0:
			group.Transport = group.Transports[0]
		}
		group.Serial = group.Serials[group.Transport]
		devices = append(devices, *group)
	}

	// Ready devices first, USB-capable before Wi-Fi-only, then by serial.
	sort.SliceStable(devices, func(i, j int) bool {
		ri, rj := scanRank(devices[i]), scanRank(devices[j])
		if ri != rj {
			return ri < rj
		}
		return devices[i].Serial < devices[j].Serial
	})

	result := ScanResult{Devices: devices, AvailableTransports: sortedKeys(transportSet)}
	for _, dev := range devices {
		if dev.State == "device" {
			result.Recommended = dev.Serial
			result.RecommendedID = dev.ID
			break
		}
	}
	if result.Recommended == "" && len(devices) > 0 {
		result.Recommended = devices[0].Serial
		result.RecommendedID = devices[0].ID
	}
	return result
}

func scanRank(d DeviceGroup) int {
	rank := 0
	if d.State != "device" {
		rank += 2
	}
	if d.Serials["usb"] == "" {
		rank++
	}
	return rank
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
