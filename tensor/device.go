package tensor

import "fmt"

// DeviceKind enumerates the device families a tensor can live on.
type DeviceKind uint8

const (
	CPU DeviceKind = iota
	CUDA
	Metal
	Vulkan
)

func (k DeviceKind) String() string {
	switch k {
	case CPU:
		return "cpu"
	case CUDA:
		return "cuda"
	case Metal:
		return "metal"
	case Vulkan:
		return "vulkan"
	default:
		return fmt.Sprintf("device(%d)", uint8(k))
	}
}

// Device locates a tensor on one concrete device. It is a plain value: two
// Device values name the same device exactly when they compare equal with ==,
// which is also what makes it usable as a map key.
type Device struct {
	Kind    DeviceKind
	Ordinal int
}

func (d Device) String() string {
	return fmt.Sprintf("%s:%d", d.Kind, d.Ordinal)
}
