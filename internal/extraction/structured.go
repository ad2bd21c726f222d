package extraction

import (
	"maps"
	"slices"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/jonesrussell/north-cloud/listings/internal/domain"
	"github.com/jonesrussell/north-cloud/listings/internal/platform"
)

// listingTypes are the JSON-LD types that describe a listing or the property it offers.
var listingTypes = map[string]bool{
	"offer":                 true,
	"residence":             true,
	"singlefamilyresidence": true,
	"apartment":             true,
	"house":                 true,
	"realestatelisting":     true,
	"product":               true,
	"accommodation":         true,
}

// structuredLayer reads embedded structured data: platform script patterns, the embedded
// state blob and JSON-LD, in that order.
func (e *Engine) structuredLayer(def *platform.Definition, p *page, warn func(string, ...any)) *values {
	v := newValues(LayerStructured)

	for _, fp := range def.ScriptPatterns() {
		if fp.Field == FieldImages || fp.Field == FieldLocationIDs {
			var items []string
			for _, m := range fp.Pattern.FindAllStringSubmatch(p.scripts, -1) {
				if len(m) > 1 {
					items = append(items, strings.Split(m[1], ",")...)
				}
			}
			v.setList(fp.Field, items)
			continue
		}
		m := fp.Pattern.FindStringSubmatch(p.scripts)
		if len(m) < 2 {
			continue
		}
		if err := v.setRaw(fp.Field, m[1]); err != nil {
			warn("script %v", err)
		}
	}

	if blob := def.StateBlob(p.scripts); blob != "" {
		if gjson.Valid(blob) {
			e.readState(def, v, gjson.Parse(blob), warn)
		} else {
			warn("embedded state blob is not valid JSON")
		}
	}

	var offers []domain.Operation
	for _, obj := range p.jsonLD {
		if !isListingType(obj) {
			continue
		}
		if ops := readJSONLD(v, obj, warn); len(offers) == 0 {
			offers = ops
		}
	}

	buildOperations(def, v, offers)
	return v
}

func (e *Engine) readState(def *platform.Definition, v *values, state gjson.Result, warn func(string, ...any)) {
	for _, field := range slices.Sorted(maps.Keys(def.Listing.StatePaths)) {
		res := state.Get(def.Listing.StatePaths[field])
		if !res.Exists() || res.Type == gjson.Null {
			continue
		}
		if res.IsArray() {
			items := make([]string, 0, len(res.Array()))
			for _, item := range res.Array() {
				items = append(items, item.String())
			}
			v.setList(field, items)
			continue
		}
		if err := v.setRaw(field, res.String()); err != nil {
			warn("state %v", err)
		}
	}
}

// genericTypes describe the offer rather than the property, so they never become a property type.
var genericTypes = map[string]bool{"offer": true, "product": true, "realestatelisting": true}

// jsonLDTypes returns the object's @type values, which may be a string or an array.
func jsonLDTypes(obj gjson.Result) []string {
	typ := obj.Get(`@type`)
	if !typ.IsArray() {
		if s := typ.String(); s != "" {
			return []string{s}
		}
		return nil
	}
	var out []string
	for _, t := range typ.Array() {
		if s := t.String(); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func isListingType(obj gjson.Result) bool {
	return slices.ContainsFunc(jsonLDTypes(obj), func(t string) bool { return listingTypes[strings.ToLower(t)] })
}

// jsonLDNumbers maps schema.org count and size properties onto numeric fields. The first
// present property of each entry wins.
var jsonLDNumbers = []struct {
	field string
	paths []string
}{
	{FieldBedrooms, []string{"numberOfBedrooms", "numberOfRooms"}},
	{FieldBathrooms, []string{"numberOfBathroomsTotal", "numberOfFullBathrooms"}},
	{FieldHalfBathrooms, []string{"numberOfPartialBathrooms"}},
	{FieldBuiltSize, []string{"floorSize"}},
	{FieldLotSize, []string{"lotSize"}},
	{FieldLatitude, []string{"geo.latitude"}},
	{FieldLongitude, []string{"geo.longitude"}},
}

// readJSONLD maps schema.org listing vocabulary onto fields and returns its offers.
func readJSONLD(v *values, obj gjson.Result, warn func(string, ...any)) []domain.Operation {
	types := jsonLDTypes(obj)
	isOffer := false
	for _, t := range types {
		lower := strings.ToLower(t)
		if lower == "offer" {
			isOffer = true
		}
		if !genericTypes[lower] {
			v.setText(FieldPropertyType, t)
		}
	}
	v.setText(FieldTitle, obj.Get("name").String())
	v.setText(FieldDescription, obj.Get("description").String())

	for _, n := range jsonLDNumbers {
		for _, path := range n.paths {
			r := obj.Get(path)
			if !r.Exists() {
				continue
			}
			if err := v.setRaw(n.field, scalar(r)); err != nil {
				warn("json-ld %s: %v", path, err)
			}
			break
		}
	}

	addr := obj.Get("address")
	if addr.Type == gjson.String {
		v.setText(FieldAddress, addr.String())
	} else {
		v.setText(FieldAddress, addr.Get("streetAddress").String())
		v.setText(FieldCity, addr.Get("addressLocality").String())
		v.setText(FieldState, addr.Get("addressRegion").String())
		v.setText(FieldPostalCode, addr.Get("postalCode").String())
	}

	var images []string
	img := obj.Get("image")
	switch {
	case img.IsArray():
		for _, it := range img.Array() {
			images = append(images, imageURL(it))
		}
	case img.Exists():
		images = append(images, imageURL(img))
	}
	v.setList(FieldImages, images)

	offers := obj.Get("offers")
	if isOffer {
		offers = obj
	}
	var offerObjs []gjson.Result
	if offers.IsArray() {
		offerObjs = offers.Array()
	} else if offers.Exists() {
		offerObjs = []gjson.Result{offers}
	}

	var ops []domain.Operation
	for _, o := range offerObjs {
		if op, ok := readOffer(o); ok {
			ops = append(ops, op)
		}
		if seller := o.Get("seller"); seller.Exists() {
			v.setText(FieldPublisherName, seller.Get("name").String())
			v.setText(FieldPublisherPhone, seller.Get("telephone").String())
		}
	}
	return ops
}

// readOffer reads a schema.org Offer. Offers without a positive price are skipped.
func readOffer(o gjson.Result) (domain.Operation, bool) {
	price, ok := parseNumber(o.Get("price").String())
	if !ok {
		price, ok = parseNumber(o.Get("priceSpecification.price").String())
	}
	if !ok || price <= 0 {
		return domain.Operation{}, false
	}
	currency := o.Get("priceCurrency").String()
	if currency == "" {
		currency = o.Get("priceSpecification.priceCurrency").String()
	}
	return domain.Operation{
		Type:     operationFromText(o.Get("businessFunction").String() + " " + o.Get("category").String()),
		Price:    price,
		Currency: normalizeCurrency(currency),
	}, true
}

// scalar reads a QuantitativeValue or a plain value.
func scalar(r gjson.Result) string {
	if r.IsObject() {
		return r.Get("value").String()
	}
	return r.String()
}

func imageURL(r gjson.Result) string {
	if r.IsObject() {
		if u := r.Get("url").String(); u != "" {
			return u
		}
		return r.Get("contentUrl").String()
	}
	return r.String()
}

// buildOperations sets the layer's operations. A price read by a platform pattern or state
// path comes first; JSON-LD offers of other operation types are kept alongside it.
func buildOperations(def *platform.Definition, v *values, offers []domain.Operation) {
	opType := normalizeOperation(def, v.text[FieldOperationType])
	if price, ok := v.num[FieldPrice]; ok && price > 0 {
		v.ops = append(v.ops, domain.Operation{
			Type:     opType,
			Price:    price,
			Currency: normalizeCurrency(v.text[FieldCurrency]),
		})
	}
	for _, o := range offers {
		if o.Type == "" {
			o.Type = opType
		}
		if len(v.ops) > 0 && slices.ContainsFunc(v.ops, func(x domain.Operation) bool { return x.Type == o.Type }) {
			continue
		}
		v.ops = append(v.ops, o)
	}
}
