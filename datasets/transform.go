package datasets

import "github.com/Noofbiz/chestxray/annotation"

// Transform maps an image and its optional mask to the tensors fed to a
// model. Implementations must apply any geometric change to both the image
// and the mask, keep a nil mask nil, and be safe for concurrent use: loaders
// call Apply from several goroutines.
type Transform interface {
	Apply(img *Image, mask *annotation.Mask) (*Image, *annotation.Mask, error)
}

// TransformFunc adapts a function to the Transform interface.
type TransformFunc func(img *Image, mask *annotation.Mask) (*Image, *annotation.Mask, error)

// Apply calls f.
func (f TransformFunc) Apply(img *Image, mask *annotation.Mask) (*Image, *annotation.Mask, error) {
	return f(img, mask)
}

// Identity returns its inputs unchanged.
var Identity Transform = TransformFunc(func(img *Image, mask *annotation.Mask) (*Image, *annotation.Mask, error) {
	return img, mask, nil
})
