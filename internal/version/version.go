// ABOUTME: Build identity constants
// ABOUTME: Reported by the control surface and the mDNS advertisement
package version

const (
	Version      = "0.3.0"
	Product      = "Playthrough"
	Manufacturer = "Resonate Protocol"
)
