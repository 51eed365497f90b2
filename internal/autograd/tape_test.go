// Memrankd - Context Memory Ranking and Training Worker
// Copyright 2026 Memrankd Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/memrankd/memrankd

package autograd

import (
	"math"
	"testing"
)

func approxEq(t *testing.T, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Fatalf("%v != %v (tol %v)", got, want, tol)
	}
}

func newTestTape() *Tape {
	return NewTape(NewParams())
}

func TestSigmoidBackwardMatchesReference(t *testing.T) {
	tape := newTestTape()
	x := tape.Constant([]float64{0.2, -1.0})
	y := tape.Sigmoid(x)
	ones := tape.Constant([]float64{1.0, 1.0})
	sum := tape.Dot(y, ones)
	loss := tape.Scale(sum, 0.5)
	tape.Backward(loss)

	yv := tape.Value(y)
	grad := tape.Grad(x)
	approxEq(t, grad[0], 0.5*yv[0]*(1.0-yv[0]), 1e-8)
	approxEq(t, grad[1], 0.5*yv[1]*(1.0-yv[1]), 1e-8)
}

func TestMatVecBackpropUpdatesWeightGrads(t *testing.T) {
	store := NewParams()
	rng := NewRng(7)
	p := store.Add(Matrix(rng, 1, 2, 0.1))
	tape := NewTape(store)

	x := tape.Constant([]float64{1.0, 3.0})
	y := tape.MatVec(p, x)
	tape.Backward(y)

	grad := store.At(p).Grad
	approxEq(t, grad[0], 1.0, 1e-8)
	approxEq(t, grad[1], 3.0, 1e-8)
}

func TestMeanPoolSplitsGradientEvenly(t *testing.T) {
	tape := newTestTape()
	a := tape.Constant([]float64{2.0, 4.0})
	b := tape.Constant([]float64{6.0, 8.0})
	pooled := tape.MeanPool([]Act{a, b})

	approxEq(t, tape.Value(pooled)[0], 4.0, 1e-12)
	approxEq(t, tape.Value(pooled)[1], 6.0, 1e-12)

	ones := tape.Constant([]float64{1.0, 1.0})
	sum := tape.Dot(pooled, ones)
	loss := tape.Scale(sum, 0.5)
	tape.Backward(loss)

	for _, in := range []Act{a, b} {
		for _, g := range tape.Grad(in) {
			approxEq(t, g, 0.25, 1e-8)
		}
	}
}

func TestFeatureConcatRoutesGradientToEachSlice(t *testing.T) {
	tape := newTestTape()
	a := tape.Constant([]float64{1.0, 2.0})
	b := tape.Constant([]float64{3.0})
	c := tape.FeatureConcat([]Act{a, b})
	ones := tape.Constant([]float64{1.0, 1.0, 1.0})
	sum := tape.Dot(c, ones)
	loss := tape.Scale(sum, 1.0/3.0)
	tape.Backward(loss)

	approxEq(t, tape.Grad(a)[0], 1.0/3.0, 1e-8)
	approxEq(t, tape.Grad(a)[1], 1.0/3.0, 1e-8)
	approxEq(t, tape.Grad(b)[0], 1.0/3.0, 1e-8)
}

func TestFeatureConcatIsAssociative(t *testing.T) {
	va := []float64{1.0, 2.0}
	vb := []float64{3.0, 4.0}
	vc := []float64{5.0}
	weights := []float64{0.3, -0.7, 0.1, 0.9, -0.2}

	run := func(nest bool) ([]float64, [][]float64) {
		tape := newTestTape()
		a := tape.Constant(va)
		b := tape.Constant(vb)
		c := tape.Constant(vc)
		var out Act
		if nest {
			ab := tape.FeatureConcat([]Act{a, b})
			out = tape.FeatureConcat([]Act{ab, c})
		} else {
			out = tape.FeatureConcat([]Act{a, b, c})
		}
		w := tape.Constant(weights)
		loss := tape.Dot(out, w)
		tape.Backward(loss)
		grads := [][]float64{
			append([]float64(nil), tape.Grad(a)...),
			append([]float64(nil), tape.Grad(b)...),
			append([]float64(nil), tape.Grad(c)...),
		}
		return append([]float64(nil), tape.Value(out)...), grads
	}

	flatVal, flatGrads := run(false)
	nestVal, nestGrads := run(true)
	for i := range flatVal {
		approxEq(t, flatVal[i], nestVal[i], 1e-12)
	}
	for i := range flatGrads {
		for j := range flatGrads[i] {
			approxEq(t, flatGrads[i][j], nestGrads[i][j], 1e-12)
		}
	}
}

func TestSoftmaxOutputIsADistribution(t *testing.T) {
	tape := newTestTape()
	x := tape.Constant([]float64{-3.0, 0.0, 2.5, 100.0, -50.0})
	y := tape.Softmax(x)

	sum := 0.0
	for _, v := range tape.Value(y) {
		if v <= 0.0 || v >= 1.0 {
			t.Fatalf("softmax element %v outside (0, 1)", v)
		}
		sum += v
	}
	approxEq(t, sum, 1.0, 1e-9)
}

func TestLayerNormProducesZeroMeanUnitVariance(t *testing.T) {
	tape := newTestTape()
	x := tape.Constant([]float64{1.0, 3.0, 5.0, 7.0})
	y := tape.LayerNorm(x)

	values := tape.Value(y)
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))

	if math.Abs(mean) > 1e-8 {
		t.Fatalf("normalized mean %v not ~0", mean)
	}
	if math.Abs(variance-1.0) > 1e-3 {
		t.Fatalf("normalized variance %v not ~1", variance)
	}
}

func TestReluPassesGradientOnlyWherePositive(t *testing.T) {
	tape := newTestTape()
	x := tape.Constant([]float64{-1.0, 0.0, 2.0})
	y := tape.Relu(x)
	ones := tape.Constant([]float64{1.0, 1.0, 1.0})
	loss := tape.Dot(y, ones)
	tape.Backward(loss)

	grad := tape.Grad(x)
	approxEq(t, grad[0], 0.0, 1e-12)
	approxEq(t, grad[1], 0.0, 1e-12)
	approxEq(t, grad[2], 1.0, 1e-12)
}

func TestListwiseLossIsZeroOnIdenticalLogits(t *testing.T) {
	for _, temp := range []float64{0.25, 0.5, 1.0, 3.0} {
		tape := newTestTape()
		pred := tape.Constant([]float64{0.3, -1.2, 2.0, 0.0})
		target := tape.Constant([]float64{0.3, -1.2, 2.0, 0.0})
		loss := tape.ListwiseLoss(pred, target, temp)
		approxEq(t, tape.Scalar(loss), 0.0, 1e-9)
	}
}

func TestListwiseLossPushesGradientTowardTarget(t *testing.T) {
	tape := newTestTape()
	pred := tape.Constant([]float64{0.1, 0.9})
	target := tape.Constant([]float64{1.0, 0.0})
	loss := tape.ListwiseLoss(pred, target, 0.5)
	lossValue := tape.Scalar(loss)
	tape.Backward(loss)

	grad := tape.Grad(pred)
	if !(lossValue > 0.0) || math.IsInf(lossValue, 0) || math.IsNaN(lossValue) {
		t.Fatalf("loss %v not finite positive", lossValue)
	}
	if grad[0] >= 0.0 {
		t.Fatalf("expected negative gradient at under-ranked index, got %v", grad[0])
	}
	if grad[1] <= 0.0 {
		t.Fatalf("expected positive gradient at over-ranked index, got %v", grad[1])
	}
}

func TestListwiseLossGradientIsSoftmaxDifferenceOverTemperature(t *testing.T) {
	const temp = 0.5
	predVals := []float64{0.4, -0.3, 1.1}
	trueVals := []float64{1.0, 0.0, -1.0}

	tape := newTestTape()
	pred := tape.Constant(predVals)
	target := tape.Constant(trueVals)
	loss := tape.ListwiseLoss(pred, target, temp)
	tape.Backward(loss)

	pPred := make([]float64, len(predVals))
	pTrue := make([]float64, len(trueVals))
	softmaxWithTemperature(pPred, predVals, temp)
	softmaxWithTemperature(pTrue, trueVals, temp)

	for i, g := range tape.Grad(pred) {
		approxEq(t, g, (pPred[i]-pTrue[i])/temp, 1e-12)
	}
}

func TestResetInvalidatesStateAndZeroesParamGrads(t *testing.T) {
	store := NewParams()
	rng := NewRng(3)
	p := store.Add(Matrix(rng, 2, 2, 0.5))
	tape := NewTape(store)

	x := tape.Constant([]float64{1.0, 1.0})
	y := tape.MatVec(p, x)
	ones := tape.Constant([]float64{1.0, 1.0})
	loss := tape.Dot(y, ones)
	tape.Backward(loss)

	nonZero := false
	for _, g := range store.At(p).Grad {
		if g != 0.0 {
			nonZero = true
		}
	}
	if !nonZero {
		t.Fatal("expected non-zero parameter gradient after backward")
	}

	tape.Reset()
	for i, g := range store.At(p).Grad {
		if g != 0.0 {
			t.Fatalf("parameter gradient %d not zeroed on reset: %v", i, g)
		}
	}
	if len(tape.actData) != 0 || len(tape.ops) != 0 {
		t.Fatal("reset did not clear tape storage")
	}
}

func TestEmbedRowAccumulatesIntoTheLookedUpRow(t *testing.T) {
	store := NewParams()
	rng := NewRng(11)
	p := store.Add(Matrix(rng, 3, 2, 0.1))
	tape := NewTape(store)

	e := tape.EmbedRow(p, 1)
	ones := tape.Constant([]float64{1.0, 1.0})
	loss := tape.Dot(e, ones)
	tape.Backward(loss)

	grad := store.At(p).Grad
	want := []float64{0, 0, 1, 1, 0, 0}
	for i := range want {
		approxEq(t, grad[i], want[i], 1e-12)
	}
}
