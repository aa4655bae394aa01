package interp_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tailrec/grammar"
	bc "tailrec/internal/bytecode"
	"tailrec/internal/interp"
)

const sample = `class demo/Sample {
    version 52
    flags public super
    field count I static
    field total J static
    field value I

    method divide (II)I {
        flags public static
        maxs 2 2
        iload 0
        iload 1
        idiv
        ireturn
    }

    method safeDivide (II)I {
        flags public static
        maxs 2 2
        catch Start End Handler java/lang/ArithmeticException
    Start:
        iload 0
        iload 1
        idiv
    End:
        ireturn
    Handler:
        frame locals int int stack java/lang/ArithmeticException
        pop
        iconst_m1
        ireturn
    }

    method longs (JI)J {
        flags public static
        maxs 4 3
        lload 0
        iload 2
        lshl
        ldc 3L
        ladd
        lreturn
    }

    method doubles (DF)D {
        flags public static
        maxs 4 3
        dload 0
        fload 2
        f2d
        dmul
        dreturn
    }

    method convert (D)I {
        flags public static
        maxs 2 2
        dload 0
        d2i
        ireturn
    }

    method narrow (I)I {
        flags public static
        maxs 1 1
        iload 0
        i2b
        ireturn
    }

    method bump ()I {
        flags public static
        maxs 2 0
        getstatic demo/Sample count I
        iconst_1
        iadd
        dup
        putstatic demo/Sample count I
        ireturn
    }

    method arrays (I)I {
        flags public static
        maxs 4 2
        iload 0
        newarray int
        astore 1
        aload 1
        iconst_0
        bipush 42
        iastore
        aload 1
        iconst_0
        iaload
        aload 1
        arraylength
        iadd
        ireturn
    }

    method bytes ()I {
        flags public static
        maxs 3 1
        iconst_1
        newarray byte
        dup
        iconst_0
        sipush 200
        bastore
        iconst_0
        baload
        ireturn
    }

    method fields (I)I {
        flags public static
        maxs 3 2
        new demo/Sample
        dup
        invokespecial java/lang/Object <init> ()V
        astore 1
        aload 1
        iload 0
        putfield demo/Sample value I
        aload 1
        getfield demo/Sample value I
        aload 1
        instanceof demo/Sample
        iadd
        ireturn
    }

    method pick (I)I {
        flags public static
        maxs 1 1
        iload 0
        lookupswitch -1 Minus 7 Seven default Other
    Minus:
        frame locals int stack
        bipush 10
        ireturn
    Seven:
        frame locals int stack
        bipush 70
        ireturn
    Other:
        frame locals int stack
        iload 0
        tableswitch 0 Zero One default None
    Zero:
        frame locals int stack
        iconst_0
        ireturn
    One:
        frame locals int stack
        iconst_1
        ireturn
    None:
        frame locals int stack
        iconst_m1
        ireturn
    }

    method index (II)I {
        flags public static
        maxs 2 2
        iload 0
        newarray int
        iload 1
        iaload
        ireturn
    }

    method text ()Ljava/lang/String; {
        flags public static
        maxs 1 0
        ldc "hello"
        areturn
    }

    method spin ()V {
        flags public static
        maxs 0 0
    Top:
        goto Top
    }

    method print ()V {
        flags public static
        maxs 2 0
        getstatic java/lang/System out Ljava/io/PrintStream;
        pop
        return
    }

    method fail ()V {
        flags public static
        maxs 2 0
        new java/lang/IllegalStateException
        dup
        invokespecial java/lang/Object <init> ()V
        athrow
    }

    method instance (I)I {
        flags public final
        maxs 2 2
        aload 0
        getfield demo/Sample value I
        iload 1
        iadd
        ireturn
    }

    method depth (I)I {
        flags public static
        maxs 2 1
        iload 0
        ifle Done
        iload 0
        iconst_1
        isub
        invokestatic demo/Sample depth (I)I
        iconst_1
        iadd
        ireturn
    Done:
        frame locals int stack
        iconst_0
        ireturn
    }
}`

func load(t *testing.T) *interp.Machine {
	t.Helper()
	b, err := grammar.AssembleString("sample.jasm", sample)
	require.NoError(t, err)
	vm, err := interp.New(b)
	require.NoError(t, err)
	return vm
}

func TestInvokeValues(t *testing.T) {
	vm := load(t)
	tests := []struct {
		name, desc string
		args       []interp.Value
		want       interp.Value
	}{
		{"divide", "(II)I", []interp.Value{int32(-7), int32(2)}, int32(-3)},
		{"safeDivide", "(II)I", []interp.Value{int32(9), int32(3)}, int32(3)},
		{"safeDivide", "(II)I", []interp.Value{int32(9), int32(0)}, int32(-1)},
		{"longs", "(JI)J", []interp.Value{int64(1), int32(40)}, int64(1<<40 + 3)},
		{"doubles", "(DF)D", []interp.Value{float64(1.5), float32(4)}, float64(6)},
		{"convert", "(D)I", []interp.Value{float64(1e20)}, int32(2147483647)},
		{"narrow", "(I)I", []interp.Value{int32(200)}, int32(-56)},
		{"arrays", "(I)I", []interp.Value{int32(5)}, int32(47)},
		{"bytes", "()I", nil, int32(-56)},
		{"fields", "(I)I", []interp.Value{int32(8)}, int32(9)},
		{"pick", "(I)I", []interp.Value{int32(-1)}, int32(10)},
		{"pick", "(I)I", []interp.Value{int32(7)}, int32(70)},
		{"pick", "(I)I", []interp.Value{int32(1)}, int32(1)},
		{"pick", "(I)I", []interp.Value{int32(5)}, int32(-1)},
		{"text", "()Ljava/lang/String;", nil, "hello"},
		{"depth", "(I)I", []interp.Value{int32(30)}, int32(30)},
	}
	for _, tt := range tests {
		got, err := vm.Invoke(tt.name, tt.desc, tt.args...)
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.want, got, "%s%s %v", tt.name, tt.desc, tt.args)
	}
}

func TestInstanceMethod(t *testing.T) {
	vm := load(t)
	obj := interp.NewObject("demo/Sample")
	obj.Fields["value"] = int32(40)

	got, err := vm.Invoke("instance", "(I)I", obj, int32(2))
	require.NoError(t, err)
	assert.Equal(t, int32(42), got)

	_, err = vm.Invoke("instance", "(I)I", nil, int32(2))
	var thrown *interp.Throwable
	require.ErrorAs(t, err, &thrown)
	assert.Equal(t, interp.NullPointerException, thrown.Class)
}

func TestStatics(t *testing.T) {
	vm := load(t)
	for i := 1; i <= 3; i++ {
		got, err := vm.Invoke("bump", "()I")
		require.NoError(t, err)
		assert.Equal(t, int32(i), got)
	}
	assert.Equal(t, int32(3), vm.Statics["count"])
}

func TestExceptions(t *testing.T) {
	vm := load(t)

	_, err := vm.Invoke("divide", "(II)I", int32(1), int32(0))
	var thrown *interp.Throwable
	require.ErrorAs(t, err, &thrown)
	assert.Equal(t, interp.ArithmeticException, thrown.Class)
	assert.True(t, thrown.Is("java/lang/RuntimeException"))
	assert.True(t, thrown.Is("java/lang/Throwable"))
	assert.False(t, thrown.Is("java/lang/Error"))
	assert.Equal(t, "java/lang/ArithmeticException: / by zero", thrown.Error())

	_, err = vm.Invoke("index", "(II)I", int32(2), int32(2))
	require.ErrorAs(t, err, &thrown)
	assert.Equal(t, interp.ArrayIndexOutOfBoundsException, thrown.Class)
	assert.True(t, thrown.Is("java/lang/IndexOutOfBoundsException"))

	_, err = vm.Invoke("index", "(II)I", int32(-1), int32(0))
	require.ErrorAs(t, err, &thrown)
	assert.Equal(t, interp.NegativeArraySizeException, thrown.Class)

	got, err := vm.Invoke("index", "(II)I", int32(3), int32(2))
	require.NoError(t, err)
	assert.Equal(t, int32(0), got)

	_, err = vm.Invoke("fail", "()V")
	require.ErrorAs(t, err, &thrown)
	assert.Equal(t, "java/lang/IllegalStateException", thrown.Class)
	require.NotNil(t, thrown.Object)
}

func TestStackOverflow(t *testing.T) {
	vm := load(t)
	vm.MaxDepth = 20

	got, err := vm.Invoke("depth", "(I)I", int32(19))
	require.NoError(t, err)
	assert.Equal(t, int32(19), got)
	assert.Equal(t, 20, vm.Depth)

	_, err = vm.Invoke("depth", "(I)I", int32(20))
	var thrown *interp.Throwable
	require.ErrorAs(t, err, &thrown)
	assert.True(t, thrown.Is(interp.StackOverflowError))
	assert.True(t, thrown.Is("java/lang/Error"))
}

func TestLimitsAndErrors(t *testing.T) {
	vm := load(t)
	vm.MaxSteps = 1000
	_, err := vm.Invoke("spin", "()V")
	assert.ErrorIs(t, err, interp.ErrStepLimit)

	vm = load(t)
	_, err = vm.Invoke("missing", "()V")
	assert.ErrorIs(t, err, interp.ErrNoMethod)

	_, err = vm.Invoke("print", "()V")
	assert.ErrorIs(t, err, interp.ErrUnsupported)

	_, err = vm.Invoke("divide", "(II)I", int32(1))
	assert.ErrorContains(t, err, "takes 2 arguments, got 1")
}

func TestFrameStackHeight(t *testing.T) {
	b, err := grammar.AssembleString("loop.jasm", `class demo/Loop {
    version 52
    flags public super

    method run (I)I {
        flags public static
        maxs 3 1
        nop
    Top:
        frame locals int stack
        iload 0
        ifne Again
        iconst_0
        ireturn
    Again:
        frame locals int stack
        iconst_5
        iload 0
        iconst_1
        isub
        istore 0
        goto Top
    }
}`)
	require.NoError(t, err)
	vm, err := interp.New(b)
	require.NoError(t, err)

	_, err = vm.Invoke("run", "(I)I", int32(0))
	require.NoError(t, err)

	_, err = vm.Invoke("run", "(I)I", int32(2))
	assert.ErrorIs(t, err, bc.ErrInvalidGraph)
	assert.ErrorContains(t, err, "1 stack slots in run(I)I where the frame declares 0")
}

func TestNewArrayZeroes(t *testing.T) {
	a := interp.NewArray("J", 2)
	assert.Equal(t, []interp.Value{int64(0), int64(0)}, a.Data)

	a = interp.NewArray("Ljava/lang/String;", 1)
	assert.Equal(t, []interp.Value{nil}, a.Data)
}
