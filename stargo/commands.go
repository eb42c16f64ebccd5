package stargo

// Operation describes one named protocol command: a send template and the
// scan pattern of its reply.  Send templates omit the ':' prefix and '#'
// terminator, both of which Encode adds; an empty Recv means the
// controller replies with nothing at all.
//
// The table below is the entire wire-format documentation of the
// controller and must be preserved verbatim for compatibility with the
// physical hardware.  The command set is LX200-derived with the vendor's
// X-extensions layered on top.
type Operation struct {
	Name    string `json:"name"`
	Send    string `json:"send"`
	Recv    string `json:"recv"`
	Comment string `json:"comment"`
}

// Op name constants for the operations the session and motion layers key
// on.  The rest of the table is addressed by its literal name.
const (
	OpGetProduct      = "get_product"
	OpGetFirmware     = "get_firmware"
	OpGetFirmwareDate = "get_firmware_date"
	OpGetRA           = "get_ra"
	OpGetDec          = "get_dec"
	OpGetRADec        = "get_radec"
	OpGetLST          = "get_lst"
	OpGetMotors       = "get_motors"
	OpGetStatus       = "get_status"
	OpGetPark         = "get_park"
	OpGetAlignment    = "get_alignment"
	OpGetPierSide     = "get_pier_side"
	OpSetRA           = "set_ra"
	OpSetDec          = "set_dec"
	OpGoto            = "goto"
	OpSync            = "sync"
	OpStopAll         = "stop_all"
	OpPark            = "park"
	OpUnpark          = "unpark"
	OpHome            = "home"
	OpTrackingOn      = "tracking_on"
	OpTrackingOff     = "tracking_off"
)

// Commands is the full command registry in declaration order.
var Commands = []Operation{
	// identity
	{OpGetProduct, "GVP", "%s", "product name"},
	{OpGetFirmware, "GVN", "%s", "firmware version"},
	{OpGetFirmwareDate, "GVD", "%s", "firmware build date"},
	{"get_firmware_time", "GVT", "%s", "firmware build time"},

	// position, time and site readout
	{OpGetRA, "GR", "%2d:%2d:%2d", "current RA, HH:MM:SS"},
	{OpGetDec, "GD", "%+3d*%2d:%2d", "current DEC, sDD*MM:SS"},
	{OpGetRADec, "X590", "RD%8d%8d", "both axes, microrevolutions (1e6 counts/rev)"},
	{"get_az", "GZ", "%3d*%2d:%2d", "current azimuth, DDD*MM:SS"},
	{"get_alt", "GA", "%+3d*%2d:%2d", "current altitude, sDD*MM:SS"},
	{OpGetLST, "GS", "%2d:%2d:%2d", "local sidereal time, HH:MM:SS"},
	{"get_local_time", "GL", "%2d:%2d:%2d", "local civil time, HH:MM:SS"},
	{"get_date", "GC", "%2d/%2d/%2d", "local date, MM/DD/YY"},
	{"get_utc_offset", "GG", "%f", "UTC offset, hours"},
	{"get_longitude", "Gg", "%+4d*%2d", "site longitude, sDDD*MM"},
	{"get_latitude", "Gt", "%+3d*%2d", "site latitude, sDD*MM"},
	{"get_tracking_rate", "GT", "%f", "tracking rate, Hz"},
	{"get_target_ra", "Gr", "%2d:%2d:%2d", "target RA, HH:MM:SS"},
	{"get_target_dec", "Gd", "%+3d*%2d:%2d", "target DEC, sDD*MM:SS"},

	// status
	{OpGetMotors, "X34", "m%1d%1d", "motor states: 0 idle, 1 slewing, 2 decelerating"},
	{OpGetStatus, "X3C", "Z1%1d%1d%1d", "motor bitmask, tracking flag, speed level; also sent unsolicited"},
	{OpGetPark, "X38", "p%c", "park state: 0 none, 1 parking, 2 parked, A homing, B at home"},
	{OpGetAlignment, "GW", "%c%c%1d", "mount mode, tracking state, alignment star count"},
	{OpGetPierSide, "X39", "P%c", "side of pier: E or W"},
	{"get_keypad", "TTGFr", "vr%1d", "keypad enabled flag"},
	{"get_meridian", "TTGFs", "vs%1d", "meridian flip enabled flag"},
	{"get_st4", "TTGFh", "vh%1d", "ST4 guide port enabled flag"},
	{"get_guide_rate", "X22", "a%2db%2d", "RA/DEC autoguide rates, percent of sidereal"},

	// setters; single-digit ack, 1 = accepted
	{OpSetRA, "Sr %02d:%02d:%02d", "%1d", "set target RA"},
	{OpSetDec, "Sd %c%02d*%02d:%02d", "%1d", "set target DEC"},
	{"set_az", "Sz %03d*%02d:%02d", "%1d", "set target azimuth"},
	{"set_alt", "Sa %+03d*%02d:%02d", "%1d", "set target altitude"},
	{"set_longitude", "Sg %c%03d*%02d", "%1d", "set site longitude"},
	{"set_latitude", "St %c%02d*%02d", "%1d", "set site latitude"},
	{"set_utc_offset", "SG %+05.1f", "%1d", "set UTC offset, hours"},
	{"set_local_time", "SL %02d:%02d:%02d", "%1d", "set local civil time"},
	{"set_date", "SC %02d/%02d/%02d", "%1d", "set local date"},
	{"set_guide_rate_ra", "X20%03d", "", "set RA autoguide rate, percent"},
	{"set_guide_rate_dec", "X21%03d", "", "set DEC autoguide rate, percent"},

	// pointing
	{OpGoto, "MS", "%1d", "slew to target; 0 = accepted"},
	{"goto_altaz", "MA", "%1d", "slew to alt/az target; 0 = accepted"},
	{OpSync, "CM", "%s", "sync mount on target coordinates"},

	// motion start/stop, one op per direction
	{OpStopAll, "Q", "", "abort all motion"},
	{"stop_east", "Qe", "", "stop eastward slew"},
	{"stop_west", "Qw", "", "stop westward slew"},
	{"stop_north", "Qn", "", "stop northward slew"},
	{"stop_south", "Qs", "", "stop southward slew"},
	{"start_slew_east", "Me", "", "slew east at current speed"},
	{"start_slew_west", "Mw", "", "slew west at current speed"},
	{"start_slew_north", "Mn", "", "slew north at current speed"},
	{"start_slew_south", "Ms", "", "slew south at current speed"},
	{"set_pulse_east", "Mge%04d", "", "pulse east, milliseconds"},
	{"set_pulse_west", "Mgw%04d", "", "pulse west, milliseconds"},
	{"set_pulse_north", "Mgn%04d", "", "pulse north, milliseconds"},
	{"set_pulse_south", "Mgs%04d", "", "pulse south, milliseconds"},

	// speed presets; these are the four zoom levels
	{"set_speed_guide", "RG", "", "speed level 1 (guide)"},
	{"set_speed_center", "RC", "", "speed level 2 (center)"},
	{"set_speed_find", "RM", "", "speed level 3 (find)"},
	{"set_speed_max", "RS", "", "speed level 4 (max slew)"},

	// tracking
	{"set_tracking_sidereal", "TQ", "", "sidereal tracking rate"},
	{"set_tracking_solar", "TS", "", "solar tracking rate"},
	{"set_tracking_lunar", "TL", "", "lunar tracking rate"},
	{OpTrackingOn, "X122", "", "enable tracking"},
	{OpTrackingOff, "X120", "", "disable tracking"},

	// park and home
	{OpPark, "X362", "p%c", "goto park position and stop motors"},
	{OpUnpark, "X370", "p%c", "leave park state"},
	{"set_park_pos", "X352", "%1d", "define park position as current"},
	{OpHome, "X361", "p%c", "goto home position"},
	{"set_home_pos", "X351", "%1d", "define home position as current"},

	// meridian behavior
	{"meridian_flip_on", "TTRFs", "", "enable automatic meridian flip"},
	{"meridian_flip_off", "TTSFs", "", "disable automatic meridian flip"},
	{"force_flip", "TTFFd", "", "force a meridian flip now"},

	// mount configuration toggles
	{"keypad_on", "TTRFr", "", "enable hand controller keypad"},
	{"keypad_off", "TTSFr", "", "disable hand controller keypad"},
	{"st4_on", "TTRFh", "", "enable ST4 guide port"},
	{"st4_off", "TTSFh", "", "disable ST4 guide port"},
	{"set_mount_polar", "AP", "", "polar alignment mode"},
	{"set_mount_altaz", "AA", "", "alt/az alignment mode"},
	{"toggle_precision", "U", "", "toggle long/short coordinate format"},
	{"set_polar_led", "X07%1d", "", "polar scope LED brightness, 0-9"},
	{"get_aux1", "X46r", "v%1d", "aux port 1 state"},
	{"get_aux2", "X46s", "v%1d", "aux port 2 state"},
	{"set_aux1_on", "X47r", "", "aux port 1 on"},
	{"set_aux1_off", "X48r", "", "aux port 1 off"},
	{"set_aux2_on", "X47s", "", "aux port 2 on"},
	{"set_aux2_off", "X48s", "", "aux port 2 off"},

	// diagnostics
	{"get_bootmode", "X0A", "b%1d", "boot mode flag"},
	{"get_voltage", "X0B", "V%f", "supply voltage"},
	{"get_hemisphere", "X0C", "h%1d", "configured hemisphere: 0 north, 1 south"},
	{"set_hemisphere_north", "X0D0", "", "set northern hemisphere"},
	{"set_hemisphere_south", "X0D1", "", "set southern hemisphere"},
}

// registry indexes Commands by name; patterns holds each op's compiled
// scan pattern.  Both are immutable after init.
var (
	registry = map[string]Operation{}
	patterns = map[string]Pattern{}
)

func init() {
	for _, op := range Commands {
		registry[op.Name] = op
		if op.Recv != "" {
			patterns[op.Name] = MustPattern(op.Recv)
		}
	}
}

// Lookup returns the Operation with the given symbolic name.
func Lookup(name string) (Operation, bool) {
	op, ok := registry[name]
	return op, ok
}

// RecvPattern returns the compiled reply pattern for an operation, with
// ok false when the operation expects no reply.
func RecvPattern(name string) (Pattern, bool) {
	p, ok := patterns[name]
	return p, ok
}
