package api

import "strings"

// ouiVendors maps the first three octets of a MAC address (OUI, upper-case,
// colon-separated) to a manufacturer name. This is a small, hand-maintained
// sample of common consumer and server hardware vendors, not an exhaustive
// IEEE registry — good enough for a best-effort hint in the UI.
var ouiVendors = map[string]string{
	"00:1A:11": "Google",
	"3C:5A:B4": "Google",
	"F4:F5:D8": "Google",
	"00:1B:63": "Apple",
	"3C:07:54": "Apple",
	"A4:83:E7": "Apple",
	"DC:A6:32": "Raspberry Pi Foundation",
	"B8:27:EB": "Raspberry Pi Foundation",
	"E4:5F:01": "Raspberry Pi Foundation",
	"00:50:56": "VMware",
	"00:0C:29": "VMware",
	"08:00:27": "Oracle VirtualBox",
	"52:54:00": "QEMU/KVM",
	"00:15:5D": "Microsoft Hyper-V",
	"00:1C:42": "Parallels",
	"B0:BE:76": "Synology",
	"00:11:32": "Synology",
	"00:1E:C9": "Dell",
	"D4:BE:D9": "Dell",
	"00:25:90": "Super Micro",
	"70:85:C2": "Ubiquiti Networks",
	"24:A4:3C": "Ubiquiti Networks",
	"FC:EC:DA": "Ubiquiti Networks",
	"00:11:22": "Cisco",
	"00:1A:A1": "TP-Link",
	"50:C7:BF": "TP-Link",
}

// lookupVendor returns the known manufacturer for mac's OUI prefix, or
// "Unknown" if the prefix is not in the table.
func lookupVendor(mac string) string {
	normalized := strings.ToUpper(strings.ReplaceAll(mac, "-", ":"))
	parts := strings.Split(normalized, ":")
	if len(parts) < 3 {
		return "Unknown"
	}
	prefix := strings.Join(parts[:3], ":")
	if vendor, ok := ouiVendors[prefix]; ok {
		return vendor
	}
	return "Unknown"
}
