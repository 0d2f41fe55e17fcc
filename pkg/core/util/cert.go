package util

import (
	"crypto/sha1"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"strings"

	errorc "certdeploy/pkg/core/err"
)

// ParseCertificatePEM 解析 PEM 中的第一张证书
func ParseCertificatePEM(data []byte) (*x509.Certificate, error) {
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return nil, errorc.New("未找到 PEM 格式的证书", nil).ValidWithCtx()
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, errorc.New("解析证书失败", err).ValidWithCtx()
		}
		return cert, nil
	}
}

// Thumbprint 证书 DER 的 SHA1 指纹，大写十六进制
func Thumbprint(cert *x509.Certificate) string {
	sum := sha1.Sum(cert.Raw)
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}
