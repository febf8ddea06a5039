package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"starling/pkg/vm"
)

func buildHeap(t *testing.T) (*vm.Runtime, *vm.Object) {
	t.Helper()
	rt := vm.New()

	proto, err := rt.NewPlainObject(nil)
	require.NoError(t, err)
	root, err := rt.NewPlainObject(proto)
	require.NoError(t, err)

	x, err := rt.InternAtom("x")
	require.NoError(t, err)
	y, err := rt.InternAtom("y")
	require.NoError(t, err)
	require.NoError(t, rt.SetProperty(root, x, vm.NumberValue(1)))
	require.NoError(t, rt.SetProperty(root, y, vm.StringValue("hi")))

	arr, err := rt.NewArray(nil, vm.NumberValue(10), vm.NumberValue(20))
	require.NoError(t, err)
	items, err := rt.InternAtom("items")
	require.NoError(t, err)
	require.NoError(t, rt.SetProperty(root, items, vm.ObjectValue(arr)))

	return rt, root
}

func TestCaptureReachableGraph(t *testing.T) {
	rt, root := buildHeap(t)

	h, err := Capture(rt, root)
	require.NoError(t, err)

	// root, its prototype, and the nested array.
	require.Len(t, h.Objects, 3)

	byID := make(map[uint64]ObjectRecord)
	for _, o := range h.Objects {
		byID[o.ID] = o
	}
	rootRec, ok := byID[root.ID()]
	require.True(t, ok)
	assert.Equal(t, "Object", rootRec.Class)
	require.Len(t, rootRec.Props, 3)
	assert.Equal(t, "x", rootRec.Props[0].Key)
	assert.Equal(t, "1", rootRec.Props[0].Value)
	assert.Equal(t, "y", rootRec.Props[1].Key)
	assert.NotZero(t, rootRec.ProtoID)

	var arrRec *ObjectRecord
	for i := range h.Objects {
		if h.Objects[i].FastArray {
			arrRec = &h.Objects[i]
		}
	}
	require.NotNil(t, arrRec)
	assert.Equal(t, []string{"10", "20"}, arrRec.Elems)

	assert.NotEmpty(t, h.Shapes)
	assert.NotEmpty(t, h.Atoms)
}

func TestCaptureDeterministic(t *testing.T) {
	rt, root := buildHeap(t)

	h1, err := Capture(rt, root)
	require.NoError(t, err)
	h2, err := Capture(rt, root)
	require.NoError(t, err)

	b1, err := Marshal(h1)
	require.NoError(t, err)
	b2, err := Marshal(h2)
	require.NoError(t, err)
	assert.Equal(t, b1, b2, "same runtime state must snapshot to identical bytes")
}

func TestMarshalRoundTrip(t *testing.T) {
	rt, root := buildHeap(t)

	h, err := Capture(rt, root)
	require.NoError(t, err)
	data, err := Marshal(h)
	require.NoError(t, err)

	back, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, len(h.Objects), len(back.Objects))
	assert.Equal(t, len(h.Shapes), len(back.Shapes))
	assert.Equal(t, len(h.Atoms), len(back.Atoms))
}

func TestCaptureNilRuntime(t *testing.T) {
	_, err := Capture(nil)
	assert.Error(t, err)
}

func TestCaptureHandlesCycles(t *testing.T) {
	rt := vm.New()
	a, err := rt.NewPlainObject(nil)
	require.NoError(t, err)
	b, err := rt.NewPlainObject(nil)
	require.NoError(t, err)

	next, err := rt.InternAtom("next")
	require.NoError(t, err)
	require.NoError(t, rt.SetProperty(a, next, vm.ObjectValue(b)))
	require.NoError(t, rt.SetProperty(b, next, vm.ObjectValue(a)))

	h, err := Capture(rt, a)
	require.NoError(t, err)
	assert.Len(t, h.Objects, 2)
}
