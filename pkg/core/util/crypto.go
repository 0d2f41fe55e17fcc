package util

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"strings"

	errorc "certdeploy/pkg/core/err"
)

const EncryptedPrefix = "ENC:"

func newGCM(salt string) (cipher.AEAD, error) {
	key := sha256.Sum256([]byte(salt))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, errorc.New("创建AES cipher失败", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errorc.New("创建GCM模式失败", err)
	}
	return gcm, nil
}

// EncryptAES 使用 AES-256-GCM 加密明文，返回带 ENC: 前缀的密文。已加密的内容原样返回
func EncryptAES(plaintext, salt string) (string, error) {
	if IsEncrypted(plaintext) {
		return plaintext, nil
	}

	gcm, err := newGCM(salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", errorc.New("生成nonce失败", err)
	}

	// nonce + ciphertext + tag
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return EncryptedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptAES 解密 EncryptAES 的输出；没有前缀的内容视为明文
func DecryptAES(ciphertext, salt string) (string, error) {
	if !IsEncrypted(ciphertext) {
		return ciphertext, nil
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(ciphertext, EncryptedPrefix))
	if err != nil {
		return "", errorc.New("Base64解码失败", err)
	}

	gcm, err := newGCM(salt)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errorc.New("密文长度不足", nil)
	}

	plaintext, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", errorc.New("解密失败", err)
	}
	return string(plaintext), nil
}

// IsEncrypted 检查字符串是否已加密
func IsEncrypted(text string) bool {
	return strings.HasPrefix(text, EncryptedPrefix)
}
