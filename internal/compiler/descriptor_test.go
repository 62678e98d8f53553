package compiler

import (
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TomKopp/KP-WME-sub000/internal/ir"
)

func compileString(t *testing.T, src string) cue.Value {
	t.Helper()
	v := cuecontext.New().CompileString(src, cue.Filename("components.cue"))
	require.NoError(t, v.Err())
	return v
}

func TestCompileDescriptorBasic(t *testing.T) {
	v := compileString(t, `
		component: map: {
			name:       "Map"
			ui:         true
			migratable: true
			resources: ["map.js", "map.css"]
			channels: ["geo"]
			operations: ["moveTo", "zoomIn"]
			properties: {
				zoom:  int | *3
				title: "Dresden"
				layers: [...string]
				center: {lat: int, lng: int}
			}
		}
	`)

	desc, err := CompileDescriptor("map", v.LookupPath(cue.ParsePath("component.map")))
	require.NoError(t, err)

	assert.Equal(t, "map", desc.ComponentID)
	assert.Equal(t, "Map", desc.Name)
	assert.True(t, desc.UI)
	assert.True(t, desc.Migratable)
	assert.Equal(t, []string{"map.js", "map.css"}, desc.Resources)
	assert.Equal(t, []string{"geo"}, desc.Channels)
	assert.Equal(t, []string{"moveTo", "zoomIn"}, desc.Operations)
	assert.Equal(t, []ir.PropertyDecl{
		{Name: "zoom", Type: "int", Default: ir.Int(3)},
		{Name: "title", Type: "string", Default: ir.String("Dresden")},
		{Name: "layers", Type: "array"},
		{Name: "center", Type: "object"},
	}, desc.Properties)
}

func TestCompileDescriptorDefaults(t *testing.T) {
	v := compileString(t, `component: list: {}`)

	desc, err := CompileDescriptor("list", v.LookupPath(cue.ParsePath("component.list")))
	require.NoError(t, err)

	assert.Equal(t, "list", desc.Name, "name falls back to the id")
	assert.False(t, desc.UI)
	assert.False(t, desc.Migratable)
	assert.Empty(t, desc.Properties)
}

func TestCompileDescriptorFloatForbidden(t *testing.T) {
	v := compileString(t, `component: chart: properties: scale: float`)

	_, err := CompileDescriptor("chart", v.LookupPath(cue.ParsePath("component.chart")))

	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "properties.scale", ce.Field)
	assert.Contains(t, ce.Message, "float")
	assert.True(t, ce.Pos.IsValid())
}

func TestCompileDescriptorWrongFieldTypes(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		field string
	}{
		{"ui not bool", `component: c: ui: "yes"`, "ui"},
		{"name not string", `component: c: name: 3`, "name"},
		{"channels not list", `component: c: channels: "geo"`, "channels"},
		{"channel not string", `component: c: channels: ["geo", 1]`, "channels[1]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := compileString(t, tt.src)

			_, err := CompileDescriptor("c", v.LookupPath(cue.ParsePath("component.c")))

			var ce *CompileError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestCompileDescriptorsCollectsErrors(t *testing.T) {
	v := compileString(t, `
		component: {
			map: migratable: true
			bad: properties: ratio: 1.5
			list: ui: true
		}
	`)

	descs, errs := CompileDescriptors(v)

	require.Len(t, descs, 2)
	assert.Equal(t, "map", descs[0].ComponentID)
	assert.Equal(t, "list", descs[1].ComponentID)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "float")
}

func TestCompileDescriptorsNoComponents(t *testing.T) {
	v := compileString(t, `other: 1`)

	descs, errs := CompileDescriptors(v)

	assert.Empty(t, descs)
	assert.Empty(t, errs)
}

func TestCompileErrorFormat(t *testing.T) {
	err := &CompileError{Field: "ui", Message: "must be a bool"}
	assert.Equal(t, "ui: must be a bool", err.Error())
}
