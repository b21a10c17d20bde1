//go:build darwin && cgo

// ABOUTME: AVFoundation microphone authorization for macOS
// ABOUTME: Blocks a goroutine on the system prompt until the user answers
package permissions

/*
#cgo CFLAGS: -x objective-c
#cgo LDFLAGS: -framework AVFoundation -framework Foundation
#import <AVFoundation/AVFoundation.h>

int checkMicrophonePermission() {
    AVAuthorizationStatus status = [AVCaptureDevice authorizationStatusForMediaType:AVMediaTypeAudio];
    return (int)status;
}

int requestMicrophonePermission() {
    __block BOOL result = NO;
    dispatch_semaphore_t sem = dispatch_semaphore_create(0);
    [AVCaptureDevice requestAccessForMediaType:AVMediaTypeAudio completionHandler:^(BOOL granted) {
        result = granted;
        dispatch_semaphore_signal(sem);
    }];
    dispatch_semaphore_wait(sem, DISPATCH_TIME_FOREVER);
    return result ? 1 : 0;
}
*/
import "C"

func microphoneStatus() Status {
	return Status(C.checkMicrophonePermission())
}

func requestMicrophone() bool {
	return C.requestMicrophonePermission() == 1
}
