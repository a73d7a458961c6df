package catalog

// Built-in component ids.
const (
	IPAddress           = "ip-address"
	PortRange           = "port-range"
	Protocol            = "protocol"
	DNSQuery            = "dns-query"
	StringMatch         = "string-match"
	RegexMatch          = "regex-match"
	BytePattern         = "byte-pattern"
	HTTPHeader          = "http-header"
	FileHash            = "file-hash"
	FileSize            = "file-size"
	ProcessName         = "process-name"
	RegistryKey         = "registry-key"
	BehavioralIndicator = "behavioral-indicator"
	TimeWindow          = "time-window"
)

var (
	networkIn   = []string{"packet", "match"}
	networkOut  = []string{"packet", "match"}
	contentIn   = []string{"packet", "payload", "match"}
	contentOut  = []string{"payload", "match"}
	fileIn      = []string{"file", "match"}
	fileOut     = []string{"file", "match"}
	eventIn     = []string{"event", "match"}
	eventOut    = []string{"event", "match"}
	temporalIn  = []string{"match", "event", "packet"}
	temporalOut = []string{"match"}
)

func f(v float64) *float64 { return &v }

// Builtin returns a catalog populated with the standard detection components.
func Builtin() *Catalog {
	c := New()
	for _, def := range builtinDefinitions() {
		_ = c.Register(def)
	}
	return c
}

func builtinDefinitions() []Definition {
	return []Definition{
		{
			ID: IPAddress, Name: "IP Address", Category: CategoryNetwork,
			Description: "Matches a source or destination address or CIDR block",
			Inputs:      networkIn, Outputs: networkOut,
			Parameters: map[string]Parameter{
				"address":   {Type: ParamString, Required: true, Description: "IPv4/IPv6 address or CIDR"},
				"direction": {Type: ParamSelect, Default: "any", Options: []string{"src", "dst", "any"}},
			},
		},
		{
			ID: PortRange, Name: "Port Range", Category: CategoryNetwork,
			Description: "Matches a single port or an inclusive lo:hi range",
			Inputs:      networkIn, Outputs: networkOut,
			Parameters: map[string]Parameter{
				"port":      {Type: ParamString, Required: true, Description: `"80" or "1024:65535"`},
				"direction": {Type: ParamSelect, Default: "dst", Options: []string{"src", "dst"}},
			},
		},
		{
			ID: Protocol, Name: "Protocol", Category: CategoryNetwork,
			Inputs: networkIn, Outputs: networkOut,
			Parameters: map[string]Parameter{
				"protocol": {Type: ParamSelect, Required: true, Default: "tcp",
					Options: []string{"tcp", "udp", "icmp", "ip", "http", "dns", "tls"}},
			},
		},
		{
			ID: DNSQuery, Name: "DNS Query", Category: CategoryNetwork,
			Inputs: networkIn, Outputs: networkOut,
			Parameters: map[string]Parameter{
				"domain": {Type: ParamString, Required: true},
			},
		},
		{
			ID: StringMatch, Name: "String Match", Category: CategoryContent,
			Description: "Matches a literal string in a payload field",
			Inputs:      contentIn, Outputs: contentOut,
			Parameters: map[string]Parameter{
				"string":         {Type: ParamString, Required: true},
				"case_sensitive": {Type: ParamBoolean, Default: true},
				"field":          {Type: ParamString, Default: "payload"},
			},
		},
		{
			ID: RegexMatch, Name: "Regex Match", Category: CategoryContent,
			Inputs: contentIn, Outputs: contentOut,
			Parameters: map[string]Parameter{
				"pattern": {Type: ParamString, Required: true},
				"flags":   {Type: ParamString, Default: ""},
			},
		},
		{
			ID: BytePattern, Name: "Byte Pattern", Category: CategoryContent,
			Description: "Matches hex bytes at an optional offset",
			Inputs:      contentIn, Outputs: contentOut,
			Parameters: map[string]Parameter{
				"bytes":  {Type: ParamString, Required: true, Description: `hex, e.g. "4D 5A 90"`},
				"offset": {Type: ParamNumber, Default: 0.0, Min: f(0), Max: f(65535)},
			},
		},
		{
			ID: HTTPHeader, Name: "HTTP Header", Category: CategoryContent,
			Inputs: contentIn, Outputs: contentOut,
			Parameters: map[string]Parameter{
				"header": {Type: ParamString, Required: true},
				"value":  {Type: ParamString, Required: true},
			},
		},
		{
			ID: FileHash, Name: "File Hash", Category: CategoryFile,
			Inputs: fileIn, Outputs: fileOut,
			Parameters: map[string]Parameter{
				"hash_type":  {Type: ParamSelect, Required: true, Default: "sha256", Options: []string{"md5", "sha1", "sha256"}},
				"hash_value": {Type: ParamString, Required: true},
			},
		},
		{
			ID: FileSize, Name: "File Size", Category: CategoryFile,
			Inputs: fileIn, Outputs: fileOut,
			Parameters: map[string]Parameter{
				"size": {Type: ParamRange, Required: true, Min: f(0), Max: f(1e9), Description: "[min, max] bytes"},
			},
		},
		{
			ID: ProcessName, Name: "Process", Category: CategoryBehavioral,
			Inputs: eventIn, Outputs: eventOut,
			Parameters: map[string]Parameter{
				"process":      {Type: ParamString, Required: true},
				"command_line": {Type: ParamString},
			},
		},
		{
			ID: RegistryKey, Name: "Registry Key", Category: CategoryBehavioral,
			Inputs: eventIn, Outputs: eventOut,
			Parameters: map[string]Parameter{
				"key":   {Type: ParamString, Required: true},
				"value": {Type: ParamString},
			},
		},
		{
			ID: BehavioralIndicator, Name: "Behavioral Indicator", Category: CategoryBehavioral,
			Inputs: eventIn, Outputs: eventOut,
			Parameters: map[string]Parameter{
				"behavior": {Type: ParamSelect, Required: true, Options: []string{
					"process_injection", "persistence", "lateral_movement",
					"privilege_escalation", "data_exfiltration", "credential_access",
				}},
				"threshold": {Type: ParamNumber, Default: 1.0, Min: f(1), Max: f(100)},
				"tactics": {Type: ParamMultiSelect, Options: []string{
					"initial-access", "execution", "persistence", "privilege-escalation",
					"defense-evasion", "credential-access", "discovery", "lateral-movement",
					"collection", "command-and-control", "exfiltration", "impact",
				}},
			},
		},
		{
			ID: TimeWindow, Name: "Time Window", Category: CategoryTemporal,
			Description: "Requires the upstream match count within a sliding window",
			Inputs:      temporalIn, Outputs: temporalOut,
			Parameters: map[string]Parameter{
				"window_seconds": {Type: ParamNumber, Required: true, Default: 60.0, Min: f(1), Max: f(86400)},
				"count":          {Type: ParamNumber, Default: 1.0, Min: f(1), Max: f(10000)},
			},
		},
	}
}
