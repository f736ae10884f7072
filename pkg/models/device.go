package models

// Role categorizes a lab device by its place in the topology.
type Role string

const (
	RoleFirewall Role = "firewall"
	RoleRouter   Role = "router"
	RoleSwitch   Role = "switch"
)

// Protocol selects the session variant used to talk to a device.
type Protocol string

const (
	ProtocolREST Protocol = "rest" // pfSense REST API over HTTPS
	ProtocolCLI  Protocol = "cli"  // line-oriented terminal session
)

// Credentials holds everything that may be needed to authenticate
// against a device. All fields are optional at this level; each session
// variant enforces its own minimum.
type Credentials struct {
	Username     string
	Password     string
	APIKey       string
	EnableSecret string
}

// HasBasic reports whether a username/password pair is present.
func (c Credentials) HasBasic() bool {
	return c.Username != "" && c.Password != ""
}

// Device is one node of the lab topology. Devices are built from
// configuration at startup and never mutated during a run.
type Device struct {
	Label       string // e.g. "BRANCH_FW", "SP-ROUTER1"
	Role        Role
	Host        string
	Protocol    Protocol
	Credentials Credentials
}
