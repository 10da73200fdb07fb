package inventory

import (
	"regexp"
	"sort"
)

// fieldKind drives the typed coercion applied during normalization.
type fieldKind int

const (
	kindString fieldKind = iota
	kindInteger
	kindBoolean
	kindDate           // YYYY-MM-DD
	kindDatetime       // YYYY-MM-DD HH:MM:SS[±HH:MM:SS|Z]
	kindDateOrDatetime // either of the above
)

// fieldSpec declares one field of a section.
type fieldSpec struct {
	kind      fieldKind
	pattern   *regexp.Regexp // value dropped when non-matching
	lowercase bool
	uppercase bool
	rename    string // legacy name rewritten on JSON output
	omit      bool   // field stripped from JSON output (server rejects it)
}

// sectionSpec declares a section: its field set, required fields, and
// whether the section holds a single record.
type sectionSpec struct {
	singleton bool
	fields    map[string]fieldSpec
	required  []string
	rename    string // section renamed on JSON output
	omit      bool   // whole section stripped from JSON output
	child     string // nested list field (e.g. DATABASES under DATABASES_SERVICES)
}

var (
	reVMSystem = regexp.MustCompile(`^(Physical|Xen|VirtualBox|Virtual Machine|VMware|QEMU|SolarisZone|LXC|Docker|Hyper-V|vServer|OpenVZ|BSDJail|Parallels|lxc|WSL)$`)
	reMac      = regexp.MustCompile(`^[0-9a-fA-F]{2}(:[0-9a-fA-F]{2}){5}$`)
	reIP       = regexp.MustCompile(`^[0-9a-fA-F.:]+$`)
)

// sections is the known-section set: every value stored in the document must
// name a section here and a field in its field set.
var sections = map[string]*sectionSpec{
	"ACCESSLOG": {
		singleton: true,
		fields: map[string]fieldSpec{
			"LOGDATE": {kind: kindDatetime},
			"USERID":  {},
		},
	},
	"ACCOUNTINFO": {
		fields: map[string]fieldSpec{
			"KEYNAME":  {},
			"KEYVALUE": {},
		},
	},
	"ANTIVIRUS": {
		fields: map[string]fieldSpec{
			"COMPANY":    {},
			"NAME":       {},
			"GUID":       {},
			"ENABLED":    {kind: kindBoolean},
			"UPTODATE":   {kind: kindBoolean},
			"VERSION":    {},
			"BASE_VERSION": {},
			"EXPIRATION": {kind: kindDate},
		},
		required: []string{"NAME"},
	},
	"BATTERIES": {
		fields: map[string]fieldSpec{
			"NAME":          {},
			"CHEMISTRY":     {},
			"SERIAL":        {},
			"MANUFACTURER":  {},
			"DATE":          {kind: kindDateOrDatetime},
			"CAPACITY":      {kind: kindInteger},
			"REAL_CAPACITY": {kind: kindInteger},
			"VOLTAGE":       {kind: kindInteger},
			"LEVEL":         {kind: kindInteger},
		},
	},
	"BIOS": {
		singleton: true,
		fields: map[string]fieldSpec{
			"ASSETTAG":      {},
			"BDATE":         {kind: kindDate}, // month/day inversion tolerated
			"BMANUFACTURER": {},
			"BVERSION":      {},
			"MMANUFACTURER": {},
			"MMODEL":        {},
			"MSN":           {},
			"SKUNUMBER":     {},
			"SMANUFACTURER": {},
			"SMODEL":        {},
			"SSN":           {},
		},
	},
	"CONTROLLERS": {
		fields: map[string]fieldSpec{
			"CAPTION":      {},
			"DRIVER":       {},
			"NAME":         {},
			"MANUFACTURER": {},
			"PCICLASS":     {},
			"PCISLOT":      {},
			"PRODUCTID":    {lowercase: true},
			"VENDORID":     {lowercase: true},
			"REV":          {},
			"TYPE":         {},
		},
	},
	"CPUS": {
		fields: map[string]fieldSpec{
			"ARCH":           {},
			"CORE":           {kind: kindInteger},
			"CORECOUNT":      {kind: kindInteger},
			"DESCRIPTION":    {},
			"EXTERNAL_CLOCK": {kind: kindInteger},
			"FAMILYNAME":     {},
			"FAMILYNUMBER":   {kind: kindInteger},
			"ID":             {},
			"MANUFACTURER":   {},
			"MODEL":          {kind: kindInteger},
			"NAME":           {},
			"SERIAL":         {},
			"SPEED":          {kind: kindInteger},
			"STEPPING":       {kind: kindInteger},
			"THREAD":         {kind: kindInteger},
		},
	},
	"DATABASES_SERVICES": {
		child: "DATABASES",
		fields: map[string]fieldSpec{
			"TYPE":           {},
			"NAME":           {},
			"VERSION":        {},
			"MANUFACTURER":   {},
			"PORT":           {kind: kindInteger},
			"PATH":           {},
			"SIZE":           {kind: kindInteger},
			"IS_ACTIVE":      {kind: kindBoolean},
			"IS_ONBACKUP":    {kind: kindBoolean},
			"LAST_BOOT_DATE": {kind: kindDatetime},
			"LAST_BACKUP_DATE": {kind: kindDatetime},
		},
		required: []string{"NAME"},
	},
	"DATABASES": {
		fields: map[string]fieldSpec{
			"NAME":             {},
			"SIZE":             {kind: kindInteger},
			"IS_ACTIVE":        {kind: kindBoolean},
			"IS_ONBACKUP":      {kind: kindBoolean},
			"CREATION_DATE":    {kind: kindDatetime},
			"UPDATE_DATE":      {kind: kindDatetime},
			"LAST_BACKUP_DATE": {kind: kindDatetime},
		},
		required: []string{"NAME"},
	},
	"DRIVES": {
		fields: map[string]fieldSpec{
			"CREATEDATE": {kind: kindDateOrDatetime},
			"DESCRIPTION": {},
			"FILESYSTEM": {},
			"FREE":       {kind: kindInteger},
			"LABEL":      {},
			"LETTER":     {},
			"SERIAL":     {},
			"SYSTEMDRIVE": {kind: kindBoolean},
			"TOTAL":      {kind: kindInteger},
			"TYPE":       {},
			"VOLUMN":     {},
		},
	},
	"ENVS": {
		fields: map[string]fieldSpec{
			"KEY": {},
			"VAL": {},
		},
		required: []string{"KEY"},
	},
	"FIREWALL": {
		rename: "FIREWALLS",
		fields: map[string]fieldSpec{
			"DESCRIPTION": {},
			"IPADDRESS":   {pattern: reIP},
			"PROFILE":     {},
			"STATUS":      {},
		},
		required: []string{"STATUS"},
	},
	"HARDWARE": {
		singleton: true,
		fields: map[string]fieldSpec{
			"CHASSIS_TYPE":       {},
			"DATELASTLOGGEDUSER": {},
			"DEFAULTGATEWAY":     {pattern: reIP},
			"DESCRIPTION":        {},
			"DNS":                {},
			"LASTLOGGEDUSER":     {},
			"MEMORY":             {kind: kindInteger},
			"NAME":               {},
			"SWAP":               {kind: kindInteger},
			"UUID":               {},
			"VMSYSTEM":           {pattern: reVMSystem},
			"WINOWNER":           {},
			"WINPRODID":          {},
			"WINPRODKEY":         {},
			"WORKGROUP":          {},
		},
	},
	"INPUTS": {
		fields: map[string]fieldSpec{
			"CAPTION":      {},
			"DESCRIPTION":  {},
			"INTERFACE":    {},
			"LAYOUT":       {},
			"MANUFACTURER": {},
			"NAME":         {},
			"POINTINGTYPE": {},
			"TYPE":         {},
		},
	},
	"LICENSEINFOS": {
		fields: map[string]fieldSpec{
			"ACTIVATION_DATE": {kind: kindDatetime},
			"COMPONENTS":      {},
			"FULLNAME":        {},
			"KEY":             {},
			"NAME":            {},
			"OEM":             {omit: true},
			"PRODUCTID":       {},
			"TRIAL":           {kind: kindBoolean},
			"UPDATE":          {},
		},
		required: []string{"NAME"},
	},
	"LOCAL_GROUPS": {
		fields: map[string]fieldSpec{
			"ID":     {},
			"MEMBER": {rename: "MEMBERS"},
			"NAME":   {},
		},
		required: []string{"NAME"},
	},
	"LOCAL_USERS": {
		fields: map[string]fieldSpec{
			"HOME":  {},
			"ID":    {},
			"LOGIN": {},
			"NAME":  {},
			"SHELL": {},
		},
		required: []string{"LOGIN"},
	},
	"LOGICAL_VOLUMES": {
		fields: map[string]fieldSpec{
			"ATTR":         {},
			"LV_NAME":      {},
			"LV_UUID":      {},
			"SEG_COUNT":    {kind: kindInteger},
			"SIZE":         {kind: kindInteger},
			"VG_NAME":      {},
			"VG_UUID":      {},
		},
	},
	"MEMORIES": {
		fields: map[string]fieldSpec{
			"CAPACITY":     {kind: kindInteger},
			"CAPTION":      {},
			"DESCRIPTION":  {},
			"MANUFACTURER": {},
			"MEMORYCORRECTION": {},
			"MODEL":        {},
			"NUMSLOTS":     {kind: kindInteger},
			"REMOVABLE":    {kind: kindBoolean},
			"SERIALNUMBER": {},
			"SPEED":        {kind: kindInteger},
			"TYPE":         {},
		},
	},
	"MODEMS": {
		fields: map[string]fieldSpec{
			"DESCRIPTION": {},
			"MODEL":       {},
			"NAME":        {},
			"TYPE":        {},
		},
	},
	"MONITORS": {
		fields: map[string]fieldSpec{
			"ALTSERIAL":    {},
			"BASE64":       {},
			"CAPTION":      {},
			"DESCRIPTION":  {},
			"MANUFACTURER": {},
			"PORT":         {},
			"SERIAL":       {},
		},
	},
	"NETWORKS": {
		fields: map[string]fieldSpec{
			"BSSID":       {},
			"DESCRIPTION": {},
			"DRIVER":      {},
			"IPADDRESS":   {pattern: reIP},
			"IPADDRESS6":  {pattern: reIP},
			"IPDHCP":      {pattern: reIP},
			"IPGATEWAY":   {pattern: reIP},
			"IPMASK":      {pattern: reIP},
			"IPMASK6":     {pattern: reIP},
			"IPSUBNET":    {pattern: reIP},
			"IPSUBNET6":   {pattern: reIP},
			"MACADDR":     {rename: "MAC", pattern: reMac, lowercase: true},
			"MANAGEMENT":  {kind: kindBoolean},
			"MTU":         {kind: kindInteger},
			"PCISLOT":     {},
			"SLAVES":      {},
			"SPEED":       {kind: kindInteger},
			"SSID":        {},
			"STATUS":      {uppercase: true},
			"TYPE":        {},
			"VIRTUALDEV":  {kind: kindBoolean},
			"WWN":         {},
		},
		required: []string{"DESCRIPTION"},
	},
	"OPERATINGSYSTEM": {
		singleton: true,
		fields: map[string]fieldSpec{
			"ARCH":           {},
			"BOOT_TIME":      {kind: kindDatetime},
			"DNS_DOMAIN":     {},
			"FQDN":           {},
			"FULL_NAME":      {},
			"HOSTID":         {},
			"INSTALL_DATE":   {kind: kindDatetime},
			"KERNEL_NAME":    {},
			"KERNEL_VERSION": {},
			"NAME":           {},
			"SERVICE_PACK":   {},
			"SSH_KEY":        {},
			"TIMEZONE":       {},
			"VERSION":        {},
		},
	},
	"PHYSICAL_VOLUMES": {
		fields: map[string]fieldSpec{
			"ATTR":        {},
			"DEVICE":      {},
			"FORMAT":      {},
			"FREE":        {kind: kindInteger},
			"PE_SIZE":     {kind: kindInteger},
			"PV_NAME":     {},
			"PV_PE_COUNT": {kind: kindInteger},
			"PV_UUID":     {},
			"SIZE":        {kind: kindInteger},
			"VG_UUID":     {},
		},
	},
	"PORTS": {
		fields: map[string]fieldSpec{
			"CAPTION":     {},
			"DESCRIPTION": {},
			"NAME":        {},
			"TYPE":        {},
		},
	},
	"PRINTERS": {
		fields: map[string]fieldSpec{
			"DESCRIPTION": {},
			"DRIVER":      {},
			"NAME":        {},
			"NETWORK":     {kind: kindBoolean},
			"PORT":        {},
			"PRINTPROCESSOR": {},
			"RESOLUTION":  {},
			"SERIAL":      {},
			"SHARED":      {kind: kindBoolean},
			"STATUS":      {},
		},
		required: []string{"NAME"},
	},
	"PROCESSES": {
		fields: map[string]fieldSpec{
			"CMD":           {},
			"CPUUSAGE":      {},
			"MEM":           {},
			"PID":           {kind: kindInteger},
			"STARTED":       {kind: kindDatetime},
			"TTY":           {},
			"USER":          {},
			"VIRTUALMEMORY": {kind: kindInteger},
		},
		required: []string{"CMD"},
	},
	"REGISTRY": {
		omit: true,
		fields: map[string]fieldSpec{
			"NAME":    {},
			"REGVALUE": {},
			"HIVE":    {},
		},
	},
	"REMOTE_MGMT": {
		fields: map[string]fieldSpec{
			"ID":   {},
			"TYPE": {},
		},
		required: []string{"ID", "TYPE"},
	},
	"RUDDER": {
		omit: true,
		fields: map[string]fieldSpec{
			"AGENT":        {},
			"HOSTNAME":     {},
			"SERVER_ROLES": {},
			"UUID":         {},
		},
	},
	"SLOTS": {
		fields: map[string]fieldSpec{
			"DESCRIPTION": {},
			"DESIGNATION": {},
			"NAME":        {},
			"STATUS":      {},
		},
	},
	"SOFTWARES": {
		fields: map[string]fieldSpec{
			"ARCH":             {},
			"COMMENTS":         {},
			"FILESIZE":         {kind: kindInteger},
			"FOLDER":           {},
			"FROM":             {},
			"GUID":             {},
			"HELPLINK":         {},
			"INSTALLDATE":      {kind: kindDate, rename: "INSTALL_DATE"},
			"NAME":             {},
			"NO_REMOVE":        {kind: kindBoolean},
			"PUBLISHER":        {},
			"SYSTEM_CATEGORY":  {},
			"UNINSTALL_STRING": {},
			"URL_INFO_ABOUT":   {},
			"USERID":           {},
			"USERNAME":         {},
			"VERSION":          {},
			"VERSION_MAJOR":    {kind: kindInteger},
			"VERSION_MINOR":    {kind: kindInteger},
		},
		required: []string{"NAME"},
	},
	"SOUNDS": {
		fields: map[string]fieldSpec{
			"CAPTION":      {},
			"DESCRIPTION":  {},
			"MANUFACTURER": {},
			"NAME":         {},
		},
		required: []string{"NAME"},
	},
	"STORAGES": {
		fields: map[string]fieldSpec{
			"DESCRIPTION":   {},
			"DISKSIZE":      {kind: kindInteger},
			"FIRMWARE":      {},
			"INTERFACE":     {},
			"MANUFACTURER":  {},
			"MODEL":         {},
			"NAME":          {},
			"SCSI_CHID":     {},
			"SCSI_COID":     {},
			"SCSI_LUN":      {},
			"SCSI_UNID":     {},
			"SERIAL":        {},
			"SERIALNUMBER":  {rename: "SERIAL"},
			"TYPE":          {},
			"WWN":           {},
		},
	},
	"USBDEVICES": {
		fields: map[string]fieldSpec{
			"CAPTION":      {},
			"CLASS":        {},
			"MANUFACTURER": {},
			"NAME":         {},
			"PRODUCTID":    {lowercase: true},
			"SERIAL":       {},
			"SUBCLASS":     {},
			"VENDORID":     {lowercase: true},
		},
	},
	"USERS": {
		fields: map[string]fieldSpec{
			"DOMAIN": {},
			"LOGIN":  {},
		},
		required: []string{"LOGIN"},
	},
	"VIDEOS": {
		fields: map[string]fieldSpec{
			"CHIPSET":    {},
			"MEMORY":     {kind: kindInteger},
			"NAME":       {},
			"PCIID":      {omit: true},
			"PCISLOT":    {},
			"RESOLUTION": {},
		},
		required: []string{"NAME"},
	},
	"VIRTUALMACHINES": {
		fields: map[string]fieldSpec{
			"COMMENT":    {},
			"IMAGE":      {},
			"MAC":        {pattern: reMac, lowercase: true},
			"MEMORY":     {},
			"NAME":       {},
			"SERIAL":     {},
			"STATUS":     {lowercase: true},
			"SUBSYSTEM":  {},
			"UUID":       {},
			"VCPU":       {kind: kindInteger},
			"VMTYPE":     {lowercase: true},
			"VMID":       {},
		},
		required: []string{"NAME", "VMTYPE"},
	},
	"VOLUME_GROUPS": {
		fields: map[string]fieldSpec{
			"ATTR":           {},
			"FREE":           {kind: kindInteger},
			"LV_COUNT":       {kind: kindInteger},
			"PV_COUNT":       {kind: kindInteger},
			"SIZE":           {kind: kindInteger},
			"VG_EXTENT_SIZE": {},
			"VG_NAME":        {},
			"VG_UUID":        {},
		},
	},
}

// alwaysKeptSections are never dropped from a partial submission.
var alwaysKeptSections = map[string]bool{
	"BIOS":     true,
	"HARDWARE": true,
}

// categories maps user-facing category names onto the sections they cover.
var categories = map[string][]string{
	"accesslog":      {"ACCESSLOG"},
	"antivirus":      {"ANTIVIRUS"},
	"battery":        {"BATTERIES"},
	"bios":           {"BIOS"},
	"controller":     {"CONTROLLERS"},
	"cpu":            {"CPUS"},
	"database":       {"DATABASES_SERVICES"},
	"drive":          {"DRIVES"},
	"environment":    {"ENVS"},
	"firewall":       {"FIREWALL"},
	"hardware":       {"HARDWARE"},
	"input":          {"INPUTS"},
	"licenseinfo":    {"LICENSEINFOS"},
	"local_group":    {"LOCAL_GROUPS"},
	"local_user":     {"LOCAL_USERS"},
	"lvm":            {"LOGICAL_VOLUMES", "PHYSICAL_VOLUMES", "VOLUME_GROUPS"},
	"memory":         {"MEMORIES"},
	"modem":          {"MODEMS"},
	"monitor":        {"MONITORS"},
	"network":        {"NETWORKS"},
	"os":             {"OPERATINGSYSTEM"},
	"port":           {"PORTS"},
	"printer":        {"PRINTERS"},
	"process":        {"PROCESSES"},
	"registry":       {"REGISTRY"},
	"remote_mgmt":    {"REMOTE_MGMT"},
	"rudder":         {"RUDDER"},
	"slot":           {"SLOTS"},
	"software":       {"SOFTWARES"},
	"sound":          {"SOUNDS"},
	"storage":        {"STORAGES"},
	"usb":            {"USBDEVICES"},
	"user":           {"USERS"},
	"video":          {"VIDEOS"},
	"virtualmachine": {"VIRTUALMACHINES"},
}

// Categories returns the sorted list of known category names.
func Categories() []string {
	out := make([]string, 0, len(categories))
	for name := range categories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// SectionsForCategory returns the sections a category covers.
func SectionsForCategory(name string) []string {
	return categories[name]
}

// KnownSection reports whether a section name is declared.
func KnownSection(name string) bool {
	_, ok := sections[name]
	return ok
}
