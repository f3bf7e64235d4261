package ingest

import "testing"

func TestParseKeyValue(t *testing.T) {
	p := NewParser()
	line := "2025-03-01T10:00:00Z id=SB-001 farm=Norte crop=Soja tons=120 temp=28.5 hum=14.2 co2=1.1 risk=0.35"
	fields, err := p.ParseLine(line)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.Timestamp != "2025-03-01T10:00:00Z" {
		t.Fatalf("timestamp: %q", fields.Timestamp)
	}
	if fields.BagID != "SB-001" || fields.Farm != "Norte" || fields.Crop != "Soja" {
		t.Fatalf("identity mismatch: %+v", fields)
	}
	if fields.Temperature != "28.5" || fields.Humidity != "14.2" || fields.CO2 != "1.1" || fields.Risk != "0.35" {
		t.Fatalf("measurement mismatch: %+v", fields)
	}
}

func TestParseKeyValueTrailingCommas(t *testing.T) {
	p := NewParser()
	fields, err := p.ParseLine(`id="SB-002", tons=80, risk=0.5`)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.BagID != "SB-002" || fields.Tons != "80" || fields.Risk != "0.5" {
		t.Fatalf("unexpected fields: %+v", fields)
	}
}

func TestParseCSVWithHeader(t *testing.T) {
	p := NewParser()
	if fields, _ := p.ParseLine("bag_id,crop,farm,tons,temp,hum,co2,risk"); fields != nil {
		t.Fatalf("expected header to return nil")
	}
	fields, err := p.ParseLine("SB-003,Maiz,Sur,200,31,17.5,2.8,0.81")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.BagID != "SB-003" || fields.Crop != "Maiz" || fields.Farm != "Sur" {
		t.Fatalf("csv parse mismatch: %+v", fields)
	}
	if fields.CO2 != "2.8" || fields.Risk != "0.81" {
		t.Fatalf("csv measurement mismatch: %+v", fields)
	}
}

func TestParseCSVPositional(t *testing.T) {
	p := NewParser()
	fields, err := p.ParseLine("2025-03-01T10:00:00Z,SB-004,Este,Trigo,150,25,13,0.9,0.2,-33.1,-60.5")
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.BagID != "SB-004" || fields.Tons != "150" || fields.Lat != "-33.1" || fields.Lng != "-60.5" {
		t.Fatalf("positional mismatch: %+v", fields)
	}
}

func TestParseJSON(t *testing.T) {
	p := NewParser()
	line := `{"ts":"2025-03-01T10:00:00Z","bag":"SB-005","site":"Oeste","tons":90,"temperature":22.5,"humidity":null,"co2":0.4,"risk":0.39,"location":{"lat":-34.6,"lng":-58.4}}`
	fields, err := p.ParseLine(line)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if fields.BagID != "SB-005" || fields.Farm != "Oeste" {
		t.Fatalf("json parse mismatch: %+v", fields)
	}
	if fields.Humidity != "" {
		t.Fatalf("null humidity should be missing, got %q", fields.Humidity)
	}
	if fields.Lat != "-34.6" || fields.Lng != "-58.4" || fields.Tons != "90" {
		t.Fatalf("json number/location mismatch: %+v", fields)
	}
}

func TestParseLineSkipsBlankAndComments(t *testing.T) {
	p := NewParser()
	for _, line := range []string{"", "   ", "# exported 2025-03-01"} {
		fields, err := p.ParseLine(line)
		if err != nil || fields != nil {
			t.Fatalf("line %q: expected nil, got %+v %v", line, fields, err)
		}
	}
}

func TestParsePayloadArray(t *testing.T) {
	list, err := ParsePayload(NewParser(), []byte(`[{"id":"SB-001","tons":120},{"id":"SB-002","tons":80}]`))
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if len(list) != 2 || list[0].BagID != "SB-001" || list[1].BagID != "SB-002" {
		t.Fatalf("unexpected payload: %+v", list)
	}
}

func TestParsePayloadLines(t *testing.T) {
	payload := "id,tons,risk\nSB-001,120,0.1\n\nSB-002,80,0.9\n"
	list, err := ParsePayload(NewParser(), []byte(payload))
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if len(list) != 2 || list[1].Risk != "0.9" {
		t.Fatalf("unexpected payload: %+v", list)
	}
}

func TestParsePayloadInvalidJSON(t *testing.T) {
	if _, err := ParsePayload(NewParser(), []byte(`[{"id":`)); err == nil {
		t.Fatalf("expected error")
	}
}
