package dfair

// DefaultPort is the TCP port the Danfoss Air CCM listens on.
const DefaultPort = 30046

// Endpoints of the controller's internal subsystems.
const (
	EndpointCalc byte = 0
	EndpointCCM  byte = 1
	EndpointUnit byte = 4
)

const pct = 100.0 / 255.0

// DefaultParams returns the Danfoss Air parameter definitions in read order.
func DefaultParams() []Param {
	return []Param{
		{ID: "humidity_measured_relative", Name: "relative humidity measured", Unit: "%", Endpoint: EndpointUnit, Address: 5232, Datatype: DatatypeByte, Scale: pct, Precision: 1, Interval: 60},
		{ID: "fanspeed_supply_actual", Name: "Actual Supply Fan Speed", Unit: "rpm", Endpoint: EndpointUnit, Address: 5200, Datatype: DatatypeUShort, Scale: 1, Precision: NoRounding, Interval: IntervalDefault},
		{ID: "fanspeed_extract_actual", Name: "Actual Extract Fan Speed", Unit: "rpm", Endpoint: EndpointUnit, Address: 5201, Datatype: DatatypeUShort, Scale: 1, Precision: NoRounding, Interval: IntervalDefault},
		{ID: "total_running_minutes", Name: "Total running minutes", Unit: "min", Endpoint: EndpointUnit, Address: 992, Datatype: DatatypeUInt, Scale: 1, Precision: NoRounding, Interval: 60},
		{ID: "battery_indication_percent", Name: "Battery Indication Percent", Unit: "%", Endpoint: EndpointUnit, Address: 783, Datatype: DatatypeByte, Scale: pct, Precision: 1, Interval: 120},
		{ID: "filter_remaining", Name: "Filter Remaining", Unit: "%", Endpoint: EndpointCCM, Address: 0x146a, Datatype: DatatypeByte, Scale: pct, Precision: 1, Interval: 60},
		{ID: "temperature_room", Name: "Room Temperature", Unit: "c", Endpoint: EndpointCCM, Address: 0x0300, Datatype: DatatypeUShort, Scale: 0.01, Precision: 1, Interval: 120},
		{ID: "temperature_room_calc", Name: "Calculated Room Temperature", Unit: "c", Endpoint: EndpointCalc, Address: 0x1496, Datatype: DatatypeUShort, Scale: 0.01, Precision: 1, Interval: 120},
		{ID: "boost", Name: "Boost", Endpoint: EndpointCCM, Address: 5424, Datatype: DatatypeBool, Scale: 1, Precision: NoRounding, Interval: IntervalDefault},
		{ID: "bypass", Name: "Bypass", Endpoint: EndpointCCM, Address: 0x1460, Datatype: DatatypeBool, Scale: 1, Precision: NoRounding, Interval: 60},
		{ID: "automatic_bypass", Name: "Automatic Bypass", Endpoint: EndpointCCM, Address: 0x1706, Datatype: DatatypeBool, Scale: 1, Precision: NoRounding, Interval: 60},
		{ID: "operation_mode", Name: "Operation Mode", Endpoint: EndpointCCM, Address: 0x1412, Datatype: DatatypeByte, Scale: 1, Precision: NoRounding, Interval: IntervalDefault},
		{ID: "fan_step", Name: "Fan Step", Endpoint: EndpointCCM, Address: 0x1561, Datatype: DatatypeByte, Scale: 1, Precision: NoRounding, Interval: IntervalDefault},
		{ID: "defrost_status", Name: "Defrost status", Endpoint: EndpointUnit, Address: 5617, Datatype: DatatypeBool, Scale: 1, Precision: NoRounding, Interval: 60},
		{ID: "temperature_outdoor", Name: "Temperature 1", Unit: "c", Endpoint: EndpointUnit, Address: 0x1472, Datatype: DatatypeUShort, Scale: 0.01, Precision: NoRounding, Interval: 60},
		{ID: "temperature_supply", Name: "Temperature 2", Unit: "c", Endpoint: EndpointUnit, Address: 0x1473, Datatype: DatatypeUShort, Scale: 0.01, Precision: NoRounding, Interval: 60},
		{ID: "temperature_extract", Name: "Temperature 3", Unit: "c", Endpoint: EndpointUnit, Address: 0x1474, Datatype: DatatypeUShort, Scale: 0.01, Precision: NoRounding, Interval: 60},
		{ID: "temperature_exhaust", Name: "Temperature 4", Unit: "c", Endpoint: EndpointUnit, Address: 0x1475, Datatype: DatatypeUShort, Scale: 0.01, Precision: NoRounding, Interval: 60},
		{ID: "unit_hardware_revision", Name: "Unit Hardware Revision", Endpoint: EndpointUnit, Address: 34, Datatype: DatatypeUShort, Scale: 1, Precision: NoRounding, Interval: 0},
		{ID: "unit_software_revision", Name: "Unit Software Revision", Endpoint: EndpointUnit, Address: 35, Datatype: DatatypeUShort, Scale: 1, Precision: NoRounding, Interval: 0},
		{ID: "unit_serialnumber_high_word", Name: "Unit SerialNumber High Word", Endpoint: EndpointUnit, Address: 36, Datatype: DatatypeUShort, Scale: 1, Precision: NoRounding, Interval: 0},
		{ID: "unit_serialnumber_low_word", Name: "Unit SerialNumber Low Word", Endpoint: EndpointUnit, Address: 37, Datatype: DatatypeUShort, Scale: 1, Precision: NoRounding, Interval: 0},
	}
}

// DefaultCatalog returns a fresh catalog of the Danfoss Air parameters.
func DefaultCatalog() *Catalog { return NewCatalog(DefaultParams()) }
