package onnx

import (
	"fmt"
	"image"
	"math"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/facedoor/internal/vision"
)

// ArcFace extracts embeddings with the w600k_r50 ONNX model.
// Not safe for concurrent use; Backend serializes calls.
type ArcFace struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	inputW       int
	inputH       int
	embDim       int
}

// NewArcFace loads the embedding model. It expects 112x112 input and
// produces 512 values.
func NewArcFace(modelPath string, opts *ort.SessionOptions) (*ArcFace, error) {
	inputW, inputH := 112, 112
	embDim := 512

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(inputH), int64(inputW)))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(embDim)))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input.1"},
		[]string{"683"},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		opts,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create embedder session: %w", err)
	}

	return &ArcFace{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		inputW:       inputW,
		inputH:       inputH,
		embDim:       embDim,
	}, nil
}

// Embed runs the model on a CHW tensor of InputSize and returns an
// L2-normalized copy of the output.
func (e *ArcFace) Embed(chw []float32) ([]float32, error) {
	copy(e.inputTensor.GetData(), chw)

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("run embedding: %w", err)
	}

	embedding := make([]float32, e.embDim)
	copy(embedding, e.outputTensor.GetData())
	l2Normalize(embedding)
	return embedding, nil
}

// InputSize returns the expected face crop dimensions.
func (e *ArcFace) InputSize() (int, int) {
	return e.inputW, e.inputH
}

func (e *ArcFace) Close() {
	if e.session != nil {
		e.session.Destroy()
	}
	if e.inputTensor != nil {
		e.inputTensor.Destroy()
	}
	if e.outputTensor != nil {
		e.outputTensor.Destroy()
	}
}

// FaceTensor converts a face crop of the model input size into CHW floats
// using the given normalization mode.
func FaceTensor(img *image.RGBA, mode string) ([]float32, error) {
	switch mode {
	case "", vision.NormalizationBase:
		return toCHW(img, [3]float32{127.5, 127.5, 127.5}, [3]float32{127.5, 127.5, 127.5}), nil
	case vision.NormalizationArcFace:
		return toCHW(img, [3]float32{127.5, 127.5, 127.5}, [3]float32{128, 128, 128}), nil
	case vision.NormalizationFacenet:
		return prewhiten(toCHW(img, [3]float32{}, [3]float32{1, 1, 1})), nil
	}
	return nil, fmt.Errorf("unknown normalization %q", mode)
}

// toCHW lays out img as [C][H][W] with pixel = (pixel - mean) / std.
func toCHW(img *image.RGBA, mean, std [3]float32) []float32 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	plane := w * h
	data := make([]float32, 3*plane)

	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			idx := y*w + x
			for c := 0; c < 3; c++ {
				data[c*plane+idx] = (float32(row[x*4+c]) - mean[c]) / std[c]
			}
		}
	}
	return data
}

// prewhiten standardizes to zero mean and unit variance across the tensor.
func prewhiten(v []float32) []float32 {
	var sum, sq float64
	for _, x := range v {
		sum += float64(x)
	}
	mean := sum / float64(len(v))
	for _, x := range v {
		d := float64(x) - mean
		sq += d * d
	}
	std := math.Max(math.Sqrt(sq/float64(len(v))), 1/math.Sqrt(float64(len(v))))
	for i, x := range v {
		v[i] = float32((float64(x) - mean) / std)
	}
	return v
}

func l2Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := float32(math.Sqrt(sum))
	if norm > 0 {
		for i := range v {
			v[i] /= norm
		}
	}
}
