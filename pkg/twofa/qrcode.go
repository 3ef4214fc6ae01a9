package twofa

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/png"
	"strings"

	"github.com/pquerna/otp"
	twofaerrors "github.com/tendant/simple-twofa/pkg/errors"
)

const (
	QR_CODE_SIZE     = 256
	dataURIPNGPrefix = "data:image/png;base64,"
)

// RenderQRCode encodes a provisioning URI as a PNG data URI that authenticator apps can scan
func RenderQRCode(provisioningURI string) (string, error) {
	if strings.TrimSpace(provisioningURI) == "" {
		return "", twofaerrors.EncodingError(fmt.Errorf("empty provisioning uri"))
	}

	key, err := otp.NewKeyFromURL(provisioningURI)
	if err != nil {
		return "", twofaerrors.EncodingError(err)
	}
	if !strings.HasPrefix(provisioningURI, "otpauth://") || key.Type() != "totp" || key.Secret() == "" {
		return "", twofaerrors.EncodingError(fmt.Errorf("not a totp provisioning uri"))
	}

	img, err := key.Image(QR_CODE_SIZE, QR_CODE_SIZE)
	if err != nil {
		return "", twofaerrors.EncodingError(err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", twofaerrors.EncodingError(err)
	}

	return dataURIPNGPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
